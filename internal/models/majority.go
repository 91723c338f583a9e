// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

import (
	"gonum.org/v1/gonum/mat"
)

// MajorityModel always predicts the most frequent training class. Its
// probabilities are the training class frequencies.
type MajorityModel struct {
	Proba     []float64
	NFeatures int
}

// NewMajority builds an unfitted baseline. It takes no parameters.
func NewMajority(p Params) (*MajorityModel, error) {
	if err := p.CheckKnown(); err != nil {
		return nil, err
	}
	return &MajorityModel{}, nil
}

// Name implements Classifier.
func (m *MajorityModel) Name() Algorithm { return Majority }

// Params implements Classifier.
func (m *MajorityModel) Params() Params { return Params{} }

// Fit implements Classifier.
func (m *MajorityModel) Fit(X mat.Matrix, y []int, nClasses int) error {
	rows, cols, err := checkFitInput(X, y, nClasses)
	if err != nil {
		return err
	}
	m.Proba = make([]float64, nClasses)
	for _, c := range y {
		m.Proba[c]++
	}
	for c := range m.Proba {
		m.Proba[c] /= float64(rows)
	}
	m.NFeatures = cols
	return nil
}

// PredictProba implements Classifier.
func (m *MajorityModel) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if m.Proba == nil {
		return nil, ErrNotFitted
	}
	if err := checkPredictInput(X, m.NFeatures); err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	out := mat.NewDense(r, len(m.Proba), nil)
	for i := 0; i < r; i++ {
		out.SetRow(i, m.Proba)
	}
	return out, nil
}

// Predict implements Classifier.
func (m *MajorityModel) Predict(X mat.Matrix) ([]int, error) {
	p, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxRows(p), nil
}
