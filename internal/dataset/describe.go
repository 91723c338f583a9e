// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// FeatureSummary holds descriptive statistics of one column.
type FeatureSummary struct {
	Name   string
	Count  int
	Mean   float64
	Std    float64
	Min    float64
	Median float64
	Max    float64
}

// Summary is the exploratory overview printed by `planfit describe`.
type Summary struct {
	Rows        int
	Features    []FeatureSummary
	Classes     []string
	ClassCounts []int

	// CorrelationLabels names the rows/columns of Correlation: the features
	// followed by the label when one is loaded.
	CorrelationLabels []string

	// Correlation is the Pearson correlation matrix. Entries are NaN for
	// constant columns.
	Correlation *mat.SymDense
}

// Describe computes per-feature statistics, class balance and correlations.
func Describe(d *Dataset) (*Summary, error) {
	n := d.Rows()
	if n == 0 {
		return nil, ErrNoRows
	}

	s := &Summary{Rows: n, Classes: d.Classes}
	for j, name := range d.Features {
		col := mat.Col(nil, j, d.X)
		mean, std := stat.MeanStdDev(col, nil)

		sorted := append([]float64(nil), col...)
		sort.Float64s(sorted)

		s.Features = append(s.Features, FeatureSummary{
			Name:   name,
			Count:  n,
			Mean:   mean,
			Std:    std,
			Min:    floats.Min(col),
			Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
			Max:    floats.Max(col),
		})
	}

	cols := len(d.Features)
	s.CorrelationLabels = append([]string(nil), d.Features...)
	if d.HasLabels() {
		s.ClassCounts = d.ClassCounts()
		cols++
		s.CorrelationLabels = append(s.CorrelationLabels, d.Label)
	}

	// Correlation needs at least two observations.
	if n < 2 {
		return s, nil
	}

	data := mat.NewDense(n, cols, nil)
	data.Slice(0, n, 0, len(d.Features)).(*mat.Dense).Copy(d.X)
	if d.HasLabels() {
		for i, v := range d.Y {
			data.Set(i, cols-1, float64(v))
		}
	}
	s.Correlation = mat.NewSymDense(cols, nil)
	stat.CorrelationMatrix(s.Correlation, data, nil)
	return s, nil
}
