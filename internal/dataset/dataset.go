// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset loads subscriber usage tables and partitions them for
// model selection.
//
// CSV parsing is delegated to golearn, which sniffs column types and hands
// back a FixedDataGrid. The grid is then copied into a dense gonum matrix
// (features) and an integer label vector so the models can work on plain
// linear algebra types.
package dataset

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/sjwhitworth/golearn/base"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoRows is returned when a CSV contains a header but no data.
	ErrNoRows = errors.New("dataset has no rows")

	// ErrLabelMissing is returned when the label column is required but absent.
	ErrLabelMissing = errors.New("label column not found")
)

// LoadOptions selects columns from a CSV.
type LoadOptions struct {
	// Label is the target column name. Empty means the last column.
	Label string

	// Features restricts and orders the feature columns. Empty means every
	// non-label column in file order.
	Features []string

	// RequireLabel makes a missing label column an error. When false (the
	// predict path) a missing label yields a dataset with nil Y.
	RequireLabel bool
}

// Dataset is a numeric feature matrix with optional class labels.
type Dataset struct {
	// Features are the column names of X, in order.
	Features []string

	// Label is the target column name.
	Label string

	// Classes are the distinct label values, sorted. Y indexes into it.
	Classes []string

	// X holds one row per subscriber. Nil when the dataset is empty.
	X *mat.Dense

	// Y holds class indices, or nil when no label was loaded.
	Y []int
}

// New builds a Dataset from in-memory parts and checks their shapes.
func New(features []string, label string, classes []string, x *mat.Dense, y []int) (*Dataset, error) {
	if x == nil {
		return nil, ErrNoRows
	}
	r, c := x.Dims()
	if c != len(features) {
		return nil, fmt.Errorf("matrix has %d columns but %d feature names", c, len(features))
	}
	if y != nil {
		if len(y) != r {
			return nil, fmt.Errorf("matrix has %d rows but %d labels", r, len(y))
		}
		for i, v := range y {
			if v < 0 || v >= len(classes) {
				return nil, fmt.Errorf("label %d at row %d outside %d classes", v, i, len(classes))
			}
		}
	}
	return &Dataset{Features: features, Label: label, Classes: classes, X: x, Y: y}, nil
}

// Load parses a CSV file with a header row into a Dataset.
func Load(path string, opts LoadOptions) (*Dataset, error) {
	inst, err := base.ParseCSVToInstances(path, true)
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", path, err)
	}
	return FromInstances(inst, opts)
}

// FromInstances converts a golearn grid into a Dataset.
func FromInstances(inst base.FixedDataGrid, opts LoadOptions) (*Dataset, error) {
	_, rows := inst.Size()
	if rows == 0 {
		return nil, ErrNoRows
	}

	attrs := inst.AllAttributes()
	byName := make(map[string]base.Attribute, len(attrs))
	for _, a := range attrs {
		byName[a.GetName()] = a
	}

	labelName := opts.Label
	if labelName == "" && len(attrs) > 0 {
		labelName = attrs[len(attrs)-1].GetName()
	}
	labelAttr, hasLabel := byName[labelName]
	if !hasLabel && opts.RequireLabel {
		return nil, fmt.Errorf("%w: %q", ErrLabelMissing, labelName)
	}

	var featureAttrs []base.Attribute
	if len(opts.Features) > 0 {
		for _, name := range opts.Features {
			a, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("feature column %q not found", name)
			}
			featureAttrs = append(featureAttrs, a)
		}
	} else {
		for _, a := range attrs {
			if a.GetName() != labelName {
				featureAttrs = append(featureAttrs, a)
			}
		}
	}
	if len(featureAttrs) == 0 {
		return nil, errors.New("dataset has no feature columns")
	}

	names := make([]string, len(featureAttrs))
	x := mat.NewDense(rows, len(featureAttrs), nil)
	for j, a := range featureAttrs {
		fa, ok := a.(*base.FloatAttribute)
		if !ok {
			return nil, fmt.Errorf("feature column %q is not numeric", a.GetName())
		}
		spec, err := inst.GetAttribute(a)
		if err != nil {
			return nil, fmt.Errorf("resolve column %q: %w", a.GetName(), err)
		}
		names[j] = a.GetName()
		for i := 0; i < rows; i++ {
			x.Set(i, j, fa.GetFloatFromSysVal(inst.Get(spec, i)))
		}
	}

	ds := &Dataset{Features: names, Label: labelName, X: x}
	if !hasLabel {
		return ds, nil
	}

	raw, numeric, err := readLabels(inst, labelAttr, rows)
	if err != nil {
		return nil, err
	}
	ds.Classes, ds.Y = encodeLabels(raw, numeric)
	if len(ds.Classes) < 2 && opts.RequireLabel {
		return nil, fmt.Errorf("label %q has %d distinct value(s), need at least 2", labelName, len(ds.Classes))
	}
	return ds, nil
}

// readLabels returns the label column as strings plus whether it was numeric.
func readLabels(inst base.FixedDataGrid, attr base.Attribute, rows int) ([]string, bool, error) {
	spec, err := inst.GetAttribute(attr)
	if err != nil {
		return nil, false, fmt.Errorf("resolve label %q: %w", attr.GetName(), err)
	}
	out := make([]string, rows)
	fa, numeric := attr.(*base.FloatAttribute)
	for i := 0; i < rows; i++ {
		raw := inst.Get(spec, i)
		if numeric {
			out[i] = strconv.FormatFloat(fa.GetFloatFromSysVal(raw), 'f', -1, 64)
		} else {
			out[i] = attr.GetStringFromSysVal(raw)
		}
	}
	return out, numeric, nil
}

// encodeLabels maps raw label values to sorted class names and indices.
func encodeLabels(raw []string, numeric bool) ([]string, []int) {
	seen := make(map[string]struct{})
	for _, v := range raw {
		seen[v] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Slice(classes, func(i, j int) bool {
		if numeric {
			a, _ := strconv.ParseFloat(classes[i], 64)
			b, _ := strconv.ParseFloat(classes[j], 64)
			return a < b
		}
		return classes[i] < classes[j]
	})

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	y := make([]int, len(raw))
	for i, v := range raw {
		y[i] = index[v]
	}
	return classes, y
}

// Rows returns the number of rows.
func (d *Dataset) Rows() int {
	if d == nil || d.X == nil {
		return 0
	}
	r, _ := d.X.Dims()
	return r
}

// HasLabels reports whether Y is populated.
func (d *Dataset) HasLabels() bool {
	return d != nil && d.Y != nil
}

// Subset returns a copy containing the given rows, in the given order.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		Features: d.Features,
		Label:    d.Label,
		Classes:  d.Classes,
		X:        SelectRows(d.X, idx),
	}
	if d.Y != nil {
		out.Y = make([]int, len(idx))
		for i, r := range idx {
			out.Y[i] = d.Y[r]
		}
	}
	return out
}

// ClassCounts returns the number of rows per class index.
func (d *Dataset) ClassCounts() []int {
	counts := make([]int, len(d.Classes))
	for _, v := range d.Y {
		counts[v]++
	}
	return counts
}

// SelectRows copies the given rows of x into a new matrix.
// Returns nil for an empty selection, since gonum has no zero-row Dense.
func SelectRows(x mat.Matrix, idx []int) *mat.Dense {
	if len(idx) == 0 || x == nil {
		return nil
	}
	_, c := x.Dims()
	dst := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		dst.SetRow(i, mat.Row(nil, r, x))
	}
	return dst
}

// SelectLabels copies the given entries of y.
func SelectLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}
