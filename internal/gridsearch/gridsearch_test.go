// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gridsearch

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/planfit/internal/metrics"
	"github.com/AleutianAI/planfit/internal/models"
)

// threshold data: class 1 iff feature 0 > 0.5, feature 1 is noise.
func thresholdData(n int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		v := rng.Float64()
		x.Set(i, 0, v)
		x.Set(i, 1, rng.Float64())
		if v > 0.5 {
			y[i] = 1
		}
	}
	return x, y
}

func TestGridExpand(t *testing.T) {
	g := Grid{
		"max_depth": {2, 4},
		"criterion": {"gini", "entropy"},
	}
	assert.Equal(t, 4, g.Size())

	got, err := g.Expand()
	require.NoError(t, err)
	want := []models.Params{
		{"criterion": "gini", "max_depth": 2},
		{"criterion": "gini", "max_depth": 4},
		{"criterion": "entropy", "max_depth": 2},
		{"criterion": "entropy", "max_depth": 4},
	}
	assert.Equal(t, want, got)
}

func TestGridExpandEmpty(t *testing.T) {
	got, err := Grid{}.Expand()
	require.NoError(t, err)
	assert.Equal(t, []models.Params{{}}, got)

	_, err = Grid{"C": {}}.Expand()
	assert.Error(t, err)
}

func TestGridNumeric(t *testing.T) {
	g := Grid{"max_depth": {1, 2.5}, "criterion": {"gini"}}
	assert.True(t, g.Numeric("max_depth"))
	assert.False(t, g.Numeric("criterion"))
	assert.False(t, g.Numeric("missing"))
}

func TestNewSearcher(t *testing.T) {
	s, err := NewSearcher(Config{}, nil)
	require.NoError(t, err)
	cfg := s.Config()
	assert.Equal(t, 5, cfg.Folds)
	assert.Equal(t, metrics.Accuracy, cfg.Scoring)
	assert.Positive(t, cfg.Parallelism)

	_, err = NewSearcher(Config{Folds: 1}, nil)
	assert.Error(t, err)
	_, err = NewSearcher(Config{Scoring: "auc"}, nil)
	assert.Error(t, err)
}

func TestSearchPicksDepth(t *testing.T) {
	x, y := thresholdData(200, 1)
	s, err := NewSearcher(Config{Folds: 4, Seed: 3, Parallelism: 4}, nil)
	require.NoError(t, err)

	res, err := s.Search(context.Background(), models.DecisionTree,
		Grid{"max_depth": {1, 3}}, x, y, 2)
	require.NoError(t, err)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 4, res.Folds)
	for _, c := range res.Candidates {
		assert.Len(t, c.FoldScores, 4)
		assert.GreaterOrEqual(t, c.Mean, 0.9)
	}
	best := res.BestCandidate()
	assert.Equal(t, 1, best.Rank)
	assert.NotNil(t, res.Model)

	pred, err := res.Model.Predict(x)
	require.NoError(t, err)
	hits := 0
	for i := range y {
		if pred[i] == y[i] {
			hits++
		}
	}
	assert.Greater(t, float64(hits)/float64(len(y)), 0.95)
}

func TestSearchTieKeepsFirst(t *testing.T) {
	x, y := thresholdData(100, 2)
	s, err := NewSearcher(Config{Folds: 3}, nil)
	require.NoError(t, err)

	// min_samples_split 2 and 3 grow the same stump at depth 1.
	res, err := s.Search(context.Background(), models.DecisionTree,
		Grid{"max_depth": {1}, "min_samples_split": {2, 3}}, x, y, 2)
	require.NoError(t, err)
	assert.Equal(t, res.Candidates[0].Mean, res.Candidates[1].Mean)
	assert.Equal(t, 0, res.Best)
	assert.Equal(t, 2, res.Candidates[1].Rank)
}

func TestSearchDeterministic(t *testing.T) {
	x, y := thresholdData(120, 4)
	grid := Grid{"C": {0.01, 1.0, 100.0}}
	run := func(par int) *Result {
		s, err := NewSearcher(Config{Folds: 3, Seed: 9, Parallelism: par, Scoring: metrics.F1}, nil)
		require.NoError(t, err)
		res, err := s.Search(context.Background(), models.LogisticRegression, grid, x, y, 2)
		require.NoError(t, err)
		return res
	}
	a, b := run(1), run(8)
	require.Len(t, a.Candidates, 3)
	for i := range a.Candidates {
		assert.Equal(t, a.Candidates[i].FoldScores, b.Candidates[i].FoldScores)
	}
	assert.Equal(t, a.Best, b.Best)
}

func TestSearchBadParams(t *testing.T) {
	x, y := thresholdData(40, 5)
	s, err := NewSearcher(Config{Folds: 2}, nil)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), models.DecisionTree, Grid{"max_depth": {-1}}, x, y, 2)
	assert.Error(t, err)

	_, err = s.Search(context.Background(), "svm", Grid{}, x, y, 2)
	assert.ErrorIs(t, err, models.ErrUnknownAlgorithm)
}

func TestSearchTooManyFolds(t *testing.T) {
	x, y := thresholdData(4, 6)
	s, err := NewSearcher(Config{Folds: 10}, nil)
	require.NoError(t, err)
	_, err = s.Search(context.Background(), models.Majority, Grid{}, x, y, 2)
	assert.Error(t, err)
}

func TestSearchCancelled(t *testing.T) {
	x, y := thresholdData(60, 7)
	s, err := NewSearcher(Config{Folds: 3}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Search(ctx, models.DecisionTree, Grid{}, x, y, 2)
	assert.True(t, errors.Is(err, context.Canceled))
}
