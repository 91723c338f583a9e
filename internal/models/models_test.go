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
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// blobs returns two well separated gaussian clusters. Feature 0 carries the
// signal; feature 1 is noise.
func blobs(n int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % 2
		y[i] = c
		x.Set(i, 0, float64(c)*6+rng.NormFloat64())
		x.Set(i, 1, rng.NormFloat64())
	}
	return x, y
}

func accuracy(a, b []int) float64 {
	hit := 0
	for i := range a {
		if a[i] == b[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(a))
}

func TestNew(t *testing.T) {
	for _, a := range Algorithms() {
		c, err := New(a, nil)
		require.NoError(t, err, a)
		assert.Equal(t, a, c.Name())
	}

	_, err := New("svm", nil)
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))

	_, err = New(DecisionTree, Params{"depth": 3})
	assert.ErrorContains(t, err, "unknown parameter")

	_, err = ParseAlgorithm("random_forest")
	assert.NoError(t, err)
	_, err = ParseAlgorithm("knn")
	assert.Error(t, err)
}

func TestAlgorithmsSorted(t *testing.T) {
	assert.Equal(t, []Algorithm{DecisionTree, LogisticRegression, Majority, RandomForest}, Algorithms())
}

func TestParamsAccessors(t *testing.T) {
	p := Params{"a": 3, "b": 2.0, "c": "7", "d": "true", "e": 0.5, "f": int64(4)}

	n, err := p.Int("a", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = p.Int("b", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = p.Int("c", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = p.Int("f", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = p.Int("e", 0)
	assert.Error(t, err)

	n, err = p.Int("missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	b, err := p.Bool("d", false)
	require.NoError(t, err)
	assert.True(t, b)

	f, err := p.Float("a", 0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	assert.Equal(t, "a=3, b=2, c=7, d=true, e=0.5, f=4", p.String())
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, p.Keys())

	clone := p.Clone()
	clone["a"] = 100
	assert.Equal(t, 3, p["a"])
}

func TestMaxFeaturesResolve(t *testing.T) {
	tests := []struct {
		in      MaxFeatures
		total   int
		want    int
		wantErr bool
	}{
		{"", 9, 9, false},
		{"all", 9, 9, false},
		{"sqrt", 9, 3, false},
		{"log2", 8, 3, false},
		{"2", 9, 2, false},
		{"20", 9, 9, false},
		{"0.5", 4, 2, false},
		{"0.01", 4, 1, false},
		{"1.5", 4, 0, true},
		{"-1", 4, 0, true},
		{"many", 4, 0, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := tt.in.Resolve(tt.total)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaxFeaturesParam(t *testing.T) {
	m, err := maxFeaturesParam(Params{"max_features": 3}, "all")
	require.NoError(t, err)
	assert.Equal(t, MaxFeatures("3"), m)

	m, err = maxFeaturesParam(Params{"max_features": 0.5}, "all")
	require.NoError(t, err)
	assert.Equal(t, MaxFeatures("0.5"), m)

	m, err = maxFeaturesParam(Params{"max_features": 1.0}, "all")
	require.NoError(t, err)
	assert.Equal(t, MaxFeatures("1.0"), m)

	_, err = maxFeaturesParam(Params{"max_features": "half"}, "all")
	assert.Error(t, err)
}

func TestDecisionTreeFit(t *testing.T) {
	x, y := blobs(200, 1)
	tree, err := NewDecisionTree(Params{"max_depth": 3})
	require.NoError(t, err)
	require.NoError(t, tree.Fit(x, y, 2))

	pred, err := tree.Predict(x)
	require.NoError(t, err)
	assert.Greater(t, accuracy(y, pred), 0.97)
	assert.LessOrEqual(t, tree.Depth(), 3)
	assert.GreaterOrEqual(t, tree.Leaves(), 2)

	imp := tree.FeatureImportances()
	require.Len(t, imp, 2)
	assert.Greater(t, imp[0], imp[1])
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9)
}

func TestDecisionTreeMemorises(t *testing.T) {
	x := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := []int{0, 1, 0, 1, 0, 1}
	tree, err := NewDecisionTree(nil)
	require.NoError(t, err)
	require.NoError(t, tree.Fit(x, y, 2))

	pred, err := tree.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, y, pred)
	assert.Equal(t, 6, tree.Leaves())
}

func TestDecisionTreeThresholds(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 2, 10, 11})
	y := []int{0, 0, 1, 1}
	tree, err := NewDecisionTree(nil)
	require.NoError(t, err)
	require.NoError(t, tree.Fit(x, y, 2))

	assert.Equal(t, 0, tree.Root.Feature)
	assert.Equal(t, 6.0, tree.Root.Threshold)

	pred, err := tree.Predict(mat.NewDense(3, 1, []float64{6, 6.01, -100}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0}, pred)
}

func TestDecisionTreeMinSamplesLeaf(t *testing.T) {
	x := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := []int{0, 1, 0, 1, 0, 1}
	tree, err := NewDecisionTree(Params{"min_samples_leaf": 3})
	require.NoError(t, err)
	require.NoError(t, tree.Fit(x, y, 2))

	var check func(n *Node)
	check = func(n *Node) {
		if n.IsLeaf() {
			assert.GreaterOrEqual(t, n.Samples, 3)
			return
		}
		check(n.Left)
		check(n.Right)
	}
	check(tree.Root)
}

func TestDecisionTreePureNode(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{1, 2, 3})
	tree, err := NewDecisionTree(Params{"criterion": "entropy"})
	require.NoError(t, err)
	require.NoError(t, tree.Fit(x, []int{1, 1, 1}, 2))

	assert.True(t, tree.Root.IsLeaf())
	assert.Equal(t, []float64{0, 1}, tree.Root.Proba)
	assert.Equal(t, []float64{0}, tree.FeatureImportances())
}

func TestTreeConfigValidation(t *testing.T) {
	bad := []Params{
		{"criterion": "log_loss"},
		{"max_depth": -1},
		{"min_samples_split": 1},
		{"min_samples_leaf": 0},
		{"max_features": "lots"},
		{"max_depth": 2.5},
	}
	for _, p := range bad {
		_, err := NewDecisionTree(p)
		assert.Error(t, err, p.String())
	}
}

func TestRandomForestFit(t *testing.T) {
	x, y := blobs(200, 2)
	forest, err := NewRandomForest(Params{"n_estimators": 15, "max_depth": 6, "seed": 7})
	require.NoError(t, err)
	require.NoError(t, forest.Fit(x, y, 2))
	assert.Len(t, forest.Trees, 15)

	proba, err := forest.PredictProba(x)
	require.NoError(t, err)
	r, c := proba.Dims()
	assert.Equal(t, 200, r)
	assert.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-9)
	}

	pred, err := forest.Predict(x)
	require.NoError(t, err)
	assert.Greater(t, accuracy(y, pred), 0.97)

	imp := forest.FeatureImportances()
	assert.Greater(t, imp[0], imp[1])
}

func TestRandomForestDeterministic(t *testing.T) {
	x, y := blobs(120, 3)
	fit := func(workers int) *mat.Dense {
		f, err := NewRandomForest(Params{"n_estimators": 8, "seed": 11, "n_jobs": workers})
		require.NoError(t, err)
		require.NoError(t, f.Fit(x, y, 2))
		p, err := f.PredictProba(x)
		require.NoError(t, err)
		return p
	}
	assert.True(t, mat.Equal(fit(1), fit(4)))
}

func TestRandomForestParams(t *testing.T) {
	_, err := NewRandomForest(Params{"n_estimators": 0})
	assert.Error(t, err)

	f, err := NewRandomForest(Params{"bootstrap": false})
	require.NoError(t, err)
	p := f.Params()
	assert.Equal(t, 100, p["n_estimators"])
	assert.Equal(t, false, p["bootstrap"])
	assert.Equal(t, "sqrt", p["max_features"])
}

func TestLogisticRegressionFit(t *testing.T) {
	x, y := blobs(200, 4)
	lr, err := NewLogisticRegression(Params{"C": 1.0, "max_iter": 200})
	require.NoError(t, err)
	require.NoError(t, lr.Fit(x, y, 2))

	pred, err := lr.Predict(x)
	require.NoError(t, err)
	assert.Greater(t, accuracy(y, pred), 0.97)

	proba, err := lr.PredictProba(x)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		row := proba.RawRowView(i)
		assert.InDelta(t, 1.0, row[0]+row[1], 1e-9)
	}

	coef := lr.Coefficients()
	require.NotNil(t, coef)
	// Class 1 lives at large feature-0 values.
	assert.Greater(t, coef.At(1, 0), coef.At(0, 0))
}

func TestLogisticRegressionRegularisation(t *testing.T) {
	x, y := blobs(100, 5)
	norm := func(c float64) float64 {
		lr, err := NewLogisticRegression(Params{"C": c})
		require.NoError(t, err)
		require.NoError(t, lr.Fit(x, y, 2))
		return mat.Norm(lr.Coefficients(), 2)
	}
	assert.Less(t, norm(0.01), norm(10))
}

func TestLogisticRegressionMulticlass(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	n := 150
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	centers := [][2]float64{{0, 0}, {6, 0}, {0, 6}}
	for i := 0; i < n; i++ {
		c := i % 3
		y[i] = c
		x.Set(i, 0, centers[c][0]+rng.NormFloat64())
		x.Set(i, 1, centers[c][1]+rng.NormFloat64())
	}
	lr, err := NewLogisticRegression(nil)
	require.NoError(t, err)
	require.NoError(t, lr.Fit(x, y, 3))

	pred, err := lr.Predict(x)
	require.NoError(t, err)
	assert.Greater(t, accuracy(y, pred), 0.95)
}

func TestLogisticRegressionParams(t *testing.T) {
	bad := []Params{
		{"C": 0},
		{"C": -1},
		{"max_iter": 0},
		{"tol": -0.1},
		{"solver": "saga"},
		{"penalty": "l1"},
	}
	for _, p := range bad {
		_, err := NewLogisticRegression(p)
		assert.Error(t, err, p.String())
	}
}

func TestSoftmaxGradient(t *testing.T) {
	x, y := blobs(30, 8)
	lr := &Logistic{Config: DefaultLogisticConfig()}
	lr.Mean = []float64{0, 0}
	lr.Scale = []float64{1, 1}
	obj := &softmaxObjective{x: lr.design(x), y: y, k: 2, d: 3, n: 30, penalty: 0.1}

	w := []float64{0.3, -0.2, 0.1, -0.4, 0.5, 0.05}
	grad := make([]float64, len(w))
	obj.eval(w, grad)

	const h = 1e-6
	for i := range w {
		plus := append([]float64(nil), w...)
		minus := append([]float64(nil), w...)
		plus[i] += h
		minus[i] -= h
		numeric := (obj.eval(plus, nil) - obj.eval(minus, nil)) / (2 * h)
		assert.InDelta(t, numeric, grad[i], 1e-5, "weight %d", i)
	}
}

func TestLogSumExpStable(t *testing.T) {
	v := []float64{1000, 1000}
	assert.InDelta(t, 1000+math.Log(2), logSumExp(v), 1e-9)
	softmaxInPlace(v)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, v, 1e-12)
}

func TestMajority(t *testing.T) {
	x := mat.NewDense(5, 1, []float64{1, 2, 3, 4, 5})
	m, err := NewMajority(nil)
	require.NoError(t, err)
	require.NoError(t, m.Fit(x, []int{1, 1, 0, 1, 0}, 2))

	pred, err := m.Predict(mat.NewDense(2, 1, []float64{9, -9}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, pred)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, m.Proba, 1e-12)

	_, err = NewMajority(Params{"strategy": "prior"})
	assert.Error(t, err)
}

func TestNotFitted(t *testing.T) {
	x := mat.NewDense(1, 2, []float64{1, 2})
	for _, a := range Algorithms() {
		c, err := New(a, nil)
		require.NoError(t, err)
		_, err = c.Predict(x)
		assert.ErrorIs(t, err, ErrNotFitted, a)
	}
}

func TestFitInputErrors(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{1, 2})
	for _, a := range Algorithms() {
		c, err := New(a, nil)
		require.NoError(t, err)
		assert.Error(t, c.Fit(x, []int{0}, 2), a)
		assert.Error(t, c.Fit(x, []int{0, 2}, 2), a)
		assert.Error(t, c.Fit(nil, nil, 2), a)
	}
}

func TestFeatureMismatch(t *testing.T) {
	x, y := blobs(20, 9)
	for _, a := range Algorithms() {
		c, err := New(a, Params{})
		require.NoError(t, err)
		require.NoError(t, c.Fit(x, y, 2), a)
		_, err = c.Predict(mat.NewDense(1, 3, nil))
		assert.ErrorContains(t, err, "expects 2 features", a)
	}
}

func TestMissingClassKeepsWidth(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := []int{0, 0, 2, 2}
	for _, a := range Algorithms() {
		c, err := New(a, nil)
		require.NoError(t, err)
		require.NoError(t, c.Fit(x, y, 3), a)
		p, err := c.PredictProba(x)
		require.NoError(t, err)
		_, cols := p.Dims()
		assert.Equal(t, 3, cols, a)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	x, y := blobs(60, 10)
	for _, a := range Algorithms() {
		params := Params{}
		if a == RandomForest {
			params["n_estimators"] = 5
		}
		c, err := New(a, params)
		require.NoError(t, err)
		require.NoError(t, c.Fit(x, y, 2))

		b := NewBundle(c, []string{"signal", "noise"}, "label", []string{"no", "yes"})
		b.Metrics["accuracy"] = 0.9
		data, err := b.Encode()
		require.NoError(t, err, a)

		got, err := DecodeBundle(data)
		require.NoError(t, err, a)
		assert.Equal(t, a, got.Algorithm)
		assert.Equal(t, []string{"signal", "noise"}, got.Features)
		assert.Equal(t, "yes", got.ClassName(1))
		assert.Equal(t, "class_7", got.ClassName(7))
		assert.Equal(t, 0.9, got.Metrics["accuracy"])

		want, err := c.Predict(x)
		require.NoError(t, err)
		have, err := got.Model.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, want, have, a)
	}
}

func TestDecodeBundleGarbage(t *testing.T) {
	_, err := DecodeBundle([]byte("not gob"))
	assert.Error(t, err)

	_, err = (&Bundle{}).Encode()
	assert.Error(t, err)
}
