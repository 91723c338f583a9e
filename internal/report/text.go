// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders run results as terminal tables and PNG charts.
//
// Everything here works from a store.RunRecord, so a finished run and one
// reloaded later with `planfit runs show` render identically.
package report

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/planfit/internal/dataset"
	"github.com/AleutianAI/planfit/internal/metrics"
	"github.com/AleutianAI/planfit/internal/store"
	"github.com/AleutianAI/planfit/pkg/ux"
)

// MetricNames are the per-split scores recorded for every model, in
// display order.
var MetricNames = []string{"accuracy", "precision", "recall", "f1", "f1_macro"}

func f3(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// SummaryTable lists every model with its CV, validation and test scores.
// The winner's row is highlighted.
func SummaryTable(run *store.RunRecord) string {
	headers := []string{"model", "cv " + run.Scoring, "val accuracy", "val f1"}
	for _, m := range MetricNames {
		headers = append(headers, "test "+m)
	}

	rows := make([][]string, 0, len(run.Models))
	highlight := -1
	for i, m := range run.Models {
		name := m.Algorithm
		if m.Baseline {
			name += " (baseline)"
		}
		if m.Algorithm == run.Winner {
			highlight = i
			name = string(ux.IconTrophy) + " " + name
		}

		cv := "-"
		if len(m.Candidates) > 0 {
			cv = fmt.Sprintf("%s ± %s", f3(m.CVMean), f3(m.CVStd))
		}
		row := []string{name, cv, score(m.Validation, "accuracy"), score(m.Validation, "f1")}
		for _, k := range MetricNames {
			row = append(row, score(m.Test, k))
		}
		rows = append(rows, row)
	}
	return ux.Table(headers, rows, highlight)
}

func score(scores map[string]float64, key string) string {
	v, ok := scores[key]
	if !ok {
		return "-"
	}
	return f3(v)
}

// ParamsTable lists the selected hyperparameters of each tuned model.
func ParamsTable(run *store.RunRecord) string {
	rows := make([][]string, 0, len(run.Models))
	for _, m := range run.Models {
		if m.Baseline {
			continue
		}
		rows = append(rows, []string{m.Algorithm, formatParams(m.Params), strconv.Itoa(len(m.Candidates))})
	}
	return ux.Table([]string{"model", "best params", "candidates"}, rows, -1)
}

func formatParams(p map[string]string) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, ", ")
}

// ConfusionTable renders a confusion matrix with actual classes as rows.
func ConfusionTable(classes []string, confusion [][]int) string {
	headers := []string{"actual \\ predicted"}
	headers = append(headers, classes...)
	rows := make([][]string, len(confusion))
	for i, counts := range confusion {
		row := []string{classLabel(classes, i)}
		for _, c := range counts {
			row = append(row, strconv.Itoa(c))
		}
		rows[i] = row
	}
	return ux.Table(headers, rows, -1)
}

func classLabel(classes []string, i int) string {
	if i < len(classes) {
		return classes[i]
	}
	return strconv.Itoa(i)
}

// ClassificationReport rebuilds the per-class report from a stored
// confusion matrix.
func ClassificationReport(classes []string, confusion [][]int) (string, error) {
	var yTrue, yPred []int
	for a, counts := range confusion {
		for p, n := range counts {
			for k := 0; k < n; k++ {
				yTrue = append(yTrue, a)
				yPred = append(yPred, p)
			}
		}
	}
	r, err := metrics.Evaluate(yTrue, yPred, classes)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

// ImportanceTable lists feature importances of the models that have them,
// features ordered by the winner's ranking when available.
func ImportanceTable(run *store.RunRecord) string {
	var withImp []store.ModelRecord
	for _, m := range run.Models {
		if len(m.Importances) > 0 {
			withImp = append(withImp, m)
		}
	}
	if len(withImp) == 0 {
		return ""
	}

	features := append([]string(nil), run.Features...)
	ref := withImp[0]
	if w, ok := run.Model(run.Winner); ok && len(w.Importances) > 0 {
		ref = w
	}
	sort.SliceStable(features, func(i, j int) bool {
		return ref.Importances[features[i]] > ref.Importances[features[j]]
	})

	headers := []string{"feature"}
	for _, m := range withImp {
		headers = append(headers, m.Algorithm)
	}
	rows := make([][]string, len(features))
	for i, f := range features {
		row := []string{f}
		for _, m := range withImp {
			row = append(row, f3(m.Importances[f]))
		}
		rows[i] = row
	}
	return ux.Table(headers, rows, -1)
}

// ComparisonTable lines up test rows with each model's prediction.
// Mismatches are marked with an asterisk.
func ComparisonTable(run *store.RunRecord) string {
	if len(run.Comparison) == 0 {
		return ""
	}
	var algos []string
	for _, m := range run.Models {
		algos = append(algos, m.Algorithm)
	}

	headers := []string{"row"}
	headers = append(headers, run.Features...)
	headers = append(headers, "actual")
	headers = append(headers, algos...)

	rows := make([][]string, len(run.Comparison))
	for i, c := range run.Comparison {
		row := []string{strconv.Itoa(c.Row)}
		for _, v := range c.Features {
			row = append(row, strconv.FormatFloat(v, 'g', 6, 64))
		}
		row = append(row, c.Actual)
		for _, a := range algos {
			p := c.Predicted[a]
			if p != c.Actual {
				p += "*"
			}
			row = append(row, p)
		}
		rows[i] = row
	}
	return ux.Table(headers, rows, -1)
}

// CandidateTable lists the top grid candidates of one model by rank.
func CandidateTable(m store.ModelRecord, top int) string {
	cands := append([]store.CandidateRecord(nil), m.Candidates...)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Rank < cands[j].Rank })
	if top > 0 && len(cands) > top {
		cands = cands[:top]
	}
	rows := make([][]string, len(cands))
	for i, c := range cands {
		rows[i] = []string{strconv.Itoa(c.Rank), formatParams(c.Params), f3(c.Mean), f3(c.Std)}
	}
	return ux.Table([]string{"rank", "params", "mean", "std"}, rows, 0)
}

// RunsTable lists stored runs.
func RunsTable(runs []*store.RunRecord) string {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		best := "-"
		if m, ok := r.Model(r.Winner); ok {
			best = score(m.Test, "accuracy")
		}
		sanity := "pass"
		if !r.SanityPassed {
			sanity = "FAIL"
		}
		rows[i] = []string{
			shortID(r.ID),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.DataPath,
			r.Winner,
			best,
			sanity,
		}
	}
	return ux.Table([]string{"id", "created", "data", "winner", "test accuracy", "sanity"}, rows, -1)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FeatureStatsTable renders the per-feature descriptive statistics.
func FeatureStatsTable(s *dataset.Summary) string {
	rows := make([][]string, len(s.Features))
	for i, f := range s.Features {
		rows[i] = []string{
			f.Name,
			strconv.Itoa(f.Count),
			f3(f.Mean), f3(f.Std),
			f3(f.Min), f3(f.Median), f3(f.Max),
		}
	}
	return ux.Table([]string{"feature", "count", "mean", "std", "min", "median", "max"}, rows, -1)
}

// ClassBalanceTable renders label counts and shares.
func ClassBalanceTable(s *dataset.Summary) string {
	rows := make([][]string, len(s.Classes))
	for i, c := range s.Classes {
		n := 0
		if i < len(s.ClassCounts) {
			n = s.ClassCounts[i]
		}
		rows[i] = []string{c, strconv.Itoa(n), fmt.Sprintf("%.1f%%", 100*float64(n)/float64(s.Rows))}
	}
	return ux.Table([]string{"class", "count", "share"}, rows, -1)
}

// CorrelationTable renders the Pearson correlation matrix.
func CorrelationTable(s *dataset.Summary) string {
	if s.Correlation == nil {
		return ""
	}
	headers := append([]string{""}, s.CorrelationLabels...)
	rows := make([][]string, len(s.CorrelationLabels))
	for i, name := range s.CorrelationLabels {
		row := []string{name}
		for j := range s.CorrelationLabels {
			row = append(row, strconv.FormatFloat(s.Correlation.At(i, j), 'f', 2, 64))
		}
		rows[i] = row
	}
	return ux.Table(headers, rows, -1)
}
