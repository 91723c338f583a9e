// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics scores classifier predictions.
//
// Confusion matrices use golearn's evaluation.ConfusionMatrix, keyed
// actual class → predicted class → count, so golearn's TP/FP/FN helpers
// and summary printer work on them directly.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sjwhitworth/golearn/evaluation"
)

// Scoring names a single-number objective used to rank models.
type Scoring string

const (
	Accuracy  Scoring = "accuracy"
	F1        Scoring = "f1"
	Precision Scoring = "precision"
	Recall    Scoring = "recall"
	F1Macro   Scoring = "f1_macro"
)

// Scorings lists every supported scoring.
func Scorings() []Scoring {
	return []Scoring{Accuracy, F1, Precision, Recall, F1Macro}
}

// ParseScoring validates a scoring name.
func ParseScoring(s string) (Scoring, error) {
	for _, v := range Scorings() {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown scoring %q", s)
}

// ClassMetrics holds per-class (or averaged) scores.
type ClassMetrics struct {
	Class     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is the full evaluation of one set of predictions.
type Report struct {
	Classes     []string
	Confusion   evaluation.ConfusionMatrix
	PerClass    []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Total       int
}

// Evaluate compares predictions with ground truth. Labels are indices into
// classes.
func Evaluate(yTrue, yPred []int, classes []string) (*Report, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("length mismatch: %d labels, %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return nil, errors.New("no predictions to evaluate")
	}
	if len(classes) == 0 {
		return nil, errors.New("no classes")
	}

	cm := make(evaluation.ConfusionMatrix, len(classes))
	for _, actual := range classes {
		cm[actual] = make(map[string]int, len(classes))
		for _, pred := range classes {
			cm[actual][pred] = 0
		}
	}
	for i := range yTrue {
		a, p := yTrue[i], yPred[i]
		if a < 0 || a >= len(classes) || p < 0 || p >= len(classes) {
			return nil, fmt.Errorf("row %d: class index out of range (actual %d, predicted %d)", i, a, p)
		}
		cm[classes[a]][classes[p]]++
	}

	r := &Report{
		Classes:   append([]string(nil), classes...),
		Confusion: cm,
		Total:     len(yTrue),
		Accuracy:  evaluation.GetAccuracy(cm),
	}
	r.MacroAvg.Class = "macro avg"
	r.WeightedAvg.Class = "weighted avg"

	for _, c := range classes {
		tp := evaluation.GetTruePositives(c, cm)
		fp := evaluation.GetFalsePositives(c, cm)
		fn := evaluation.GetFalseNegatives(c, cm)
		m := ClassMetrics{
			Class:     c,
			Precision: ratio(tp, tp+fp),
			Recall:    ratio(tp, tp+fn),
			Support:   int(tp + fn),
		}
		m.F1 = harmonic(m.Precision, m.Recall)
		r.PerClass = append(r.PerClass, m)

		n := float64(len(classes))
		w := float64(m.Support) / float64(r.Total)
		r.MacroAvg.Precision += m.Precision / n
		r.MacroAvg.Recall += m.Recall / n
		r.MacroAvg.F1 += m.F1 / n
		r.WeightedAvg.Precision += m.Precision * w
		r.WeightedAvg.Recall += m.Recall * w
		r.WeightedAvg.F1 += m.F1 * w
	}
	r.MacroAvg.Support = r.Total
	r.WeightedAvg.Support = r.Total
	return r, nil
}

// Class returns the metrics of the named class.
func (r *Report) Class(name string) (ClassMetrics, bool) {
	for _, m := range r.PerClass {
		if m.Class == name {
			return m, true
		}
	}
	return ClassMetrics{}, false
}

// Matrix2D returns the confusion matrix as rows = actual, columns =
// predicted, both in Classes order.
func (r *Report) Matrix2D() [][]int {
	out := make([][]int, len(r.Classes))
	for i, a := range r.Classes {
		out[i] = make([]int, len(r.Classes))
		for j, p := range r.Classes {
			out[i][j] = r.Confusion[a][p]
		}
	}
	return out
}

// Summary returns golearn's own summary text for the matrix.
func (r *Report) Summary() string {
	return evaluation.GetSummary(r.Confusion)
}

// Value returns the scalar for a scoring. Binary scorings use positive as
// the positive class index.
func (r *Report) Value(s Scoring, positive int) (float64, error) {
	switch s {
	case Accuracy:
		return r.Accuracy, nil
	case F1Macro:
		return r.MacroAvg.F1, nil
	case F1, Precision, Recall:
		if positive < 0 || positive >= len(r.PerClass) {
			return 0, fmt.Errorf("positive class %d out of range", positive)
		}
		m := r.PerClass[positive]
		switch s {
		case F1:
			return m.F1, nil
		case Precision:
			return m.Precision, nil
		default:
			return m.Recall, nil
		}
	default:
		return 0, fmt.Errorf("unknown scoring %q", s)
	}
}

// Score evaluates one scoring for integer labels in [0, nClasses).
func Score(s Scoring, yTrue, yPred []int, nClasses, positive int) (float64, error) {
	classes := make([]string, nClasses)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	r, err := Evaluate(yTrue, yPred, classes)
	if err != nil {
		return 0, err
	}
	return r.Value(s, positive)
}

// String renders a classification report in the familiar column layout.
func (r *Report) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		width = max(width, len(c))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s %10s %10s %10s %10s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, m := range r.PerClass {
		writeRow(&b, width, m)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %10s %10s %10.2f %10d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	writeRow(&b, width, r.MacroAvg)
	writeRow(&b, width, r.WeightedAvg)
	return b.String()
}

func writeRow(b *strings.Builder, width int, m ClassMetrics) {
	fmt.Fprintf(b, "%*s %10.2f %10.2f %10.2f %10d\n", width, m.Class, m.Precision, m.Recall, m.F1, m.Support)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
