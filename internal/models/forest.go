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
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ForestConfig holds random forest hyperparameters.
type ForestConfig struct {
	NEstimators int
	Bootstrap   bool
	Tree        TreeConfig

	// Workers bounds concurrent tree fits. 0 means GOMAXPROCS.
	Workers int
}

// DefaultForestConfig returns 100 bootstrapped trees with sqrt feature sampling.
func DefaultForestConfig() ForestConfig {
	tree := DefaultTreeConfig()
	tree.MaxFeatures = "sqrt"
	return ForestConfig{
		NEstimators: 100,
		Bootstrap:   true,
		Tree:        tree,
	}
}

// Forest is a bagged ensemble of CART trees.
type Forest struct {
	Config    ForestConfig
	Trees     []*Tree
	NClasses  int
	NFeatures int
}

// NewRandomForest builds an unfitted forest from params.
func NewRandomForest(p Params) (*Forest, error) {
	def := DefaultForestConfig()
	treeCfg, err := treeConfigFromParams(p, def.Tree,
		"n_estimators", "bootstrap", "n_jobs",
		"criterion", "max_depth", "min_samples_split", "min_samples_leaf", "max_features", "seed")
	if err != nil {
		return nil, err
	}
	cfg := def
	cfg.Tree = treeCfg
	if cfg.NEstimators, err = p.Int("n_estimators", def.NEstimators); err != nil {
		return nil, err
	}
	if cfg.NEstimators < 1 {
		return nil, fmt.Errorf("n_estimators must be >= 1, got %d", cfg.NEstimators)
	}
	if cfg.Bootstrap, err = p.Bool("bootstrap", def.Bootstrap); err != nil {
		return nil, err
	}
	if cfg.Workers, err = p.Int("n_jobs", 0); err != nil {
		return nil, err
	}
	return &Forest{Config: cfg}, nil
}

// Name implements Classifier.
func (f *Forest) Name() Algorithm { return RandomForest }

// Params implements Classifier.
func (f *Forest) Params() Params {
	p := (&Tree{Config: f.Config.Tree}).Params()
	p["n_estimators"] = f.Config.NEstimators
	p["bootstrap"] = f.Config.Bootstrap
	return p
}

// Fit grows every tree concurrently. Tree i is seeded with Seed+i, so the
// fitted forest does not depend on scheduling.
func (f *Forest) Fit(X mat.Matrix, y []int, nClasses int) error {
	rows, cols, err := checkFitInput(X, y, nClasses)
	if err != nil {
		return err
	}
	data := newColumns(X)

	trees := make([]*Tree, f.Config.NEstimators)
	workers := f.Config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			cfg := f.Config.Tree
			cfg.Seed = f.Config.Tree.Seed + int64(i)
			rng := rand.New(rand.NewSource(cfg.Seed))

			idx := make([]int, rows)
			for r := range idx {
				if f.Config.Bootstrap {
					idx[r] = rng.Intn(rows)
				} else {
					idx[r] = r
				}
			}

			t := &Tree{Config: cfg}
			if err := t.fitIndices(data, y, nClasses, idx, rng); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.Trees = trees
	f.NClasses = nClasses
	f.NFeatures = cols
	return nil
}

// PredictProba averages the class probabilities of all trees.
func (f *Forest) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkPredictInput(X, f.NFeatures); err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	out := mat.NewDense(r, f.NClasses, nil)
	for _, t := range f.Trees {
		p, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		out.Add(out, p)
	}
	out.Scale(1/float64(len(f.Trees)), out)
	return out, nil
}

// Predict implements Classifier.
func (f *Forest) Predict(X mat.Matrix) ([]int, error) {
	p, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxRows(p), nil
}

// FeatureImportances averages tree importances.
func (f *Forest) FeatureImportances() []float64 {
	out := make([]float64, f.NFeatures)
	if len(f.Trees) == 0 {
		return out
	}
	for _, t := range f.Trees {
		for j, v := range t.Importances {
			out[j] += v
		}
	}
	return normalize(out)
}
