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
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// LogisticConfig holds logistic regression hyperparameters.
type LogisticConfig struct {
	// C is the inverse regularisation strength. Smaller is stronger.
	C            float64
	MaxIter      int
	Tol          float64
	FitIntercept bool
}

// DefaultLogisticConfig returns C=1, 100 iterations, tol 1e-4 with intercept.
func DefaultLogisticConfig() LogisticConfig {
	return LogisticConfig{C: 1, MaxIter: 100, Tol: 1e-4, FitIntercept: true}
}

// Logistic is a multinomial (softmax) logistic regression.
//
// The objective is mean cross-entropy plus ‖W‖²/(2·C·n) over the feature
// weights; intercepts are not penalised. Features are standardised with the
// training mean and standard deviation before fitting.
type Logistic struct {
	Config LogisticConfig

	// Weights is NClasses × (NFeatures+1), row-major; the last column is
	// the intercept.
	Weights   []float64
	Mean      []float64
	Scale     []float64
	NClasses  int
	NFeatures int

	Converged  bool
	Iterations int
}

// NewLogisticRegression builds an unfitted model from params.
func NewLogisticRegression(p Params) (*Logistic, error) {
	if err := p.CheckKnown("C", "max_iter", "tol", "fit_intercept", "solver"); err != nil {
		return nil, err
	}
	cfg := DefaultLogisticConfig()
	var err error
	if cfg.C, err = p.Float("C", cfg.C); err != nil {
		return nil, err
	}
	if cfg.MaxIter, err = p.Int("max_iter", cfg.MaxIter); err != nil {
		return nil, err
	}
	if cfg.Tol, err = p.Float("tol", cfg.Tol); err != nil {
		return nil, err
	}
	if cfg.FitIntercept, err = p.Bool("fit_intercept", cfg.FitIntercept); err != nil {
		return nil, err
	}
	solver, err := p.Str("solver", "lbfgs")
	if err != nil {
		return nil, err
	}
	switch {
	case solver != "lbfgs":
		return nil, fmt.Errorf("solver %q: only lbfgs is supported", solver)
	case cfg.C <= 0 || math.IsNaN(cfg.C):
		return nil, fmt.Errorf("C must be positive, got %v", cfg.C)
	case cfg.MaxIter < 1:
		return nil, fmt.Errorf("max_iter must be >= 1, got %d", cfg.MaxIter)
	case cfg.Tol < 0:
		return nil, fmt.Errorf("tol must be >= 0, got %v", cfg.Tol)
	}
	return &Logistic{Config: cfg}, nil
}

// Name implements Classifier.
func (l *Logistic) Name() Algorithm { return LogisticRegression }

// Params implements Classifier.
func (l *Logistic) Params() Params {
	return Params{
		"C":             l.Config.C,
		"max_iter":      l.Config.MaxIter,
		"tol":           l.Config.Tol,
		"fit_intercept": l.Config.FitIntercept,
		"solver":        "lbfgs",
	}
}

// Fit minimises the penalised cross-entropy with L-BFGS.
//
// Hitting max_iter is not an error; the model keeps the last iterate and
// Converged reports false.
func (l *Logistic) Fit(X mat.Matrix, y []int, nClasses int) error {
	rows, cols, err := checkFitInput(X, y, nClasses)
	if err != nil {
		return err
	}

	l.Mean = make([]float64, cols)
	l.Scale = make([]float64, cols)
	for j := 0; j < cols; j++ {
		mean, std := stat.MeanStdDev(mat.Col(nil, j, X), nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		l.Mean[j], l.Scale[j] = mean, std
	}

	obj := &softmaxObjective{
		x:       l.design(X),
		y:       y,
		k:       nClasses,
		d:       cols + 1,
		n:       float64(rows),
		penalty: 1 / (l.Config.C * float64(rows)),
	}

	problem := optimize.Problem{
		Func: func(w []float64) float64 { return obj.eval(w, nil) },
		Grad: func(grad, w []float64) { obj.eval(w, grad) },
	}
	settings := &optimize.Settings{
		MajorIterations:   l.Config.MaxIter,
		GradientThreshold: l.Config.Tol,
	}
	init := make([]float64, nClasses*(cols+1))

	res, err := optimize.Minimize(problem, init, settings, &optimize.LBFGS{})
	if res == nil || len(res.X) != len(init) {
		if err == nil {
			err = fmt.Errorf("optimizer returned no solution")
		}
		return fmt.Errorf("fit logistic regression: %w", err)
	}

	l.Weights = append([]float64(nil), res.X...)
	l.NClasses = nClasses
	l.NFeatures = cols
	l.Iterations = res.Stats.MajorIterations
	l.Converged = err == nil && res.Status != optimize.IterationLimit
	return nil
}

// PredictProba implements Classifier.
func (l *Logistic) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if l.Weights == nil {
		return nil, ErrNotFitted
	}
	if err := checkPredictInput(X, l.NFeatures); err != nil {
		return nil, err
	}
	w := mat.NewDense(l.NClasses, l.NFeatures+1, l.Weights)
	var scores mat.Dense
	scores.Mul(l.design(X), w.T())
	r, _ := scores.Dims()
	for i := 0; i < r; i++ {
		softmaxInPlace(scores.RawRowView(i))
	}
	return &scores, nil
}

// Predict implements Classifier.
func (l *Logistic) Predict(X mat.Matrix) ([]int, error) {
	p, err := l.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxRows(p), nil
}

// Coefficients returns the per-class feature weights in original units
// (not standardised), excluding the intercept.
func (l *Logistic) Coefficients() *mat.Dense {
	if l.Weights == nil {
		return nil
	}
	out := mat.NewDense(l.NClasses, l.NFeatures, nil)
	d := l.NFeatures + 1
	for k := 0; k < l.NClasses; k++ {
		for j := 0; j < l.NFeatures; j++ {
			out.Set(k, j, l.Weights[k*d+j]/l.Scale[j])
		}
	}
	return out
}

// design standardises X and appends the intercept column (zeros when the
// intercept is disabled so its weight receives no gradient).
func (l *Logistic) design(X mat.Matrix) *mat.Dense {
	r, c := X.Dims()
	bias := 0.0
	if l.Config.FitIntercept {
		bias = 1
	}
	out := mat.NewDense(r, c+1, nil)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] = (X.At(i, j) - l.Mean[j]) / l.Scale[j]
		}
		row[c] = bias
	}
	return out
}

// softmaxObjective evaluates the penalised multinomial log-loss.
type softmaxObjective struct {
	x       *mat.Dense
	y       []int
	k, d    int
	n       float64
	penalty float64
}

func (o *softmaxObjective) eval(w []float64, grad []float64) float64 {
	weights := mat.NewDense(o.k, o.d, w)
	var s mat.Dense
	s.Mul(o.x, weights.T())

	loss := 0.0
	for i, label := range o.y {
		row := s.RawRowView(i)
		logZ := logSumExp(row)
		loss -= row[label] - logZ
		for c := range row {
			row[c] = math.Exp(row[c] - logZ)
		}
	}
	loss /= o.n

	for c := 0; c < o.k; c++ {
		for j := 0; j < o.d-1; j++ {
			v := w[c*o.d+j]
			loss += 0.5 * o.penalty * v * v
		}
	}

	if grad == nil {
		return loss
	}

	// s now holds probabilities; subtract the one-hot targets.
	for i, label := range o.y {
		s.Set(i, label, s.At(i, label)-1)
	}
	g := mat.NewDense(o.k, o.d, grad)
	g.Mul(s.T(), o.x)
	g.Scale(1/o.n, g)
	for c := 0; c < o.k; c++ {
		for j := 0; j < o.d-1; j++ {
			grad[c*o.d+j] += o.penalty * w[c*o.d+j]
		}
	}
	return loss
}

func logSumExp(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	sum := 0.0
	for _, x := range v {
		sum += math.Exp(x - m)
	}
	return m + math.Log(sum)
}

func softmaxInPlace(v []float64) {
	logZ := logSumExp(v)
	for i := range v {
		v[i] = math.Exp(v[i] - logZ)
	}
}
