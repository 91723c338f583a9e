// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package models implements the classifiers compared by planfit.
//
// All classifiers share one contract: Fit on a dense feature matrix and
// integer class labels, then PredictProba/Predict on new rows. Models are
// created by name through New so grid search and the CLI can build them
// from configuration.
//
// # Algorithms
//
//   - decision_tree: CART with gini or entropy impurity
//   - random_forest: bootstrap-aggregated CART trees with feature subsampling
//   - logistic_regression: L2-penalised softmax regression fit with L-BFGS
//   - majority: predicts the most common training class (baseline)
package models

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotFitted is returned when predicting with an unfitted model.
	ErrNotFitted = errors.New("model is not fitted")

	// ErrUnknownAlgorithm is returned by New for unregistered names.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
)

// Algorithm names a classifier family.
type Algorithm string

const (
	DecisionTree       Algorithm = "decision_tree"
	RandomForest       Algorithm = "random_forest"
	LogisticRegression Algorithm = "logistic_regression"
	Majority           Algorithm = "majority"
)

// Classifier is a supervised multi-class model.
type Classifier interface {
	// Name returns the algorithm name.
	Name() Algorithm

	// Fit trains on X (rows × features) and labels y in [0, nClasses).
	Fit(X mat.Matrix, y []int, nClasses int) error

	// PredictProba returns a rows × nClasses matrix of class probabilities.
	PredictProba(X mat.Matrix) (*mat.Dense, error)

	// Predict returns the most probable class per row.
	Predict(X mat.Matrix) ([]int, error)

	// Params returns the effective hyperparameters.
	Params() Params
}

// FeatureImporter is implemented by models that can rank input features.
type FeatureImporter interface {
	// FeatureImportances returns one non-negative weight per feature, summing
	// to 1 (or all zero when the model never split).
	FeatureImportances() []float64
}

type constructor func(Params) (Classifier, error)

var registry = map[Algorithm]constructor{
	DecisionTree:       func(p Params) (Classifier, error) { return NewDecisionTree(p) },
	RandomForest:       func(p Params) (Classifier, error) { return NewRandomForest(p) },
	LogisticRegression: func(p Params) (Classifier, error) { return NewLogisticRegression(p) },
	Majority:           func(p Params) (Classifier, error) { return NewMajority(p) },
}

// New builds an unfitted classifier of the named algorithm.
func New(algorithm Algorithm, params Params) (Classifier, error) {
	ctor, ok := registry[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	c, err := ctor(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", algorithm, err)
	}
	return c, nil
}

// Algorithms returns the registered algorithm names, sorted.
func Algorithms() []Algorithm {
	out := make([]Algorithm, 0, len(registry))
	for a := range registry {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseAlgorithm validates a user-supplied algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)
	if _, ok := registry[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
	return a, nil
}

// argmaxRows turns a probability matrix into class predictions.
// Ties resolve to the lowest class index.
func argmaxRows(p *mat.Dense) []int {
	r, c := p.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if p.At(i, j) > p.At(i, best) {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// checkFitInput validates shapes shared by every Fit implementation.
func checkFitInput(X mat.Matrix, y []int, nClasses int) (rows, cols int, err error) {
	if isNilMatrix(X) {
		return 0, 0, errors.New("no training rows")
	}
	rows, cols = X.Dims()
	if rows == 0 {
		return 0, 0, errors.New("no training rows")
	}
	if len(y) != rows {
		return 0, 0, fmt.Errorf("%d rows but %d labels", rows, len(y))
	}
	if nClasses < 1 {
		return 0, 0, fmt.Errorf("nClasses must be positive, got %d", nClasses)
	}
	for i, v := range y {
		if v < 0 || v >= nClasses {
			return 0, 0, fmt.Errorf("label %d at row %d outside [0, %d)", v, i, nClasses)
		}
	}
	return rows, cols, nil
}

// checkPredictInput validates the feature width of rows to score.
func checkPredictInput(X mat.Matrix, nFeatures int) error {
	if isNilMatrix(X) {
		return errors.New("no rows to predict")
	}
	if _, c := X.Dims(); c != nFeatures {
		return fmt.Errorf("model expects %d features, got %d", nFeatures, c)
	}
	return nil
}

// isNilMatrix also catches a nil *mat.Dense, which is how empty row
// selections are represented.
func isNilMatrix(X mat.Matrix) bool {
	if X == nil {
		return true
	}
	d, ok := X.(*mat.Dense)
	return ok && d == nil
}
