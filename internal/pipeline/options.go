// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/planfit/internal/dataset"
	"github.com/AleutianAI/planfit/internal/gridsearch"
	"github.com/AleutianAI/planfit/internal/models"
	"github.com/AleutianAI/planfit/pkg/validation"
)

// AlgorithmSpec is one algorithm to tune and its search grid.
type AlgorithmSpec struct {
	Algorithm models.Algorithm
	Grid      gridsearch.Grid
}

// Options configures a single run.
type Options struct {
	// DataPath is the CSV to train on.
	DataPath string
	Load     dataset.LoadOptions

	Split  dataset.SplitConfig
	Search gridsearch.Config

	// Algorithms are tuned in order. The order also breaks winner ties.
	Algorithms []AlgorithmSpec

	// Baseline adds a majority-class model and the sanity check against it.
	Baseline bool

	// CompareRows is how many held-out rows go into the side-by-side
	// prediction table. 0 disables it.
	CompareRows int

	// PlotDir receives a per-run directory of charts. Empty disables plots.
	PlotDir string

	// CurveParams maps an algorithm to the numeric parameter plotted
	// against its CV score.
	CurveParams map[string]string
}

// DefaultAlgorithms returns the three tuned algorithms with their default
// grids.
func DefaultAlgorithms() []AlgorithmSpec {
	return []AlgorithmSpec{
		{
			Algorithm: models.DecisionTree,
			Grid: gridsearch.Grid{
				"max_depth": {1, 2, 3, 4, 5, 6, 8, 10},
				"criterion": {"gini", "entropy"},
			},
		},
		{
			Algorithm: models.RandomForest,
			Grid: gridsearch.Grid{
				"n_estimators": {10, 30, 50},
				"max_depth":    {4, 8, 12},
			},
		},
		{
			Algorithm: models.LogisticRegression,
			Grid: gridsearch.Grid{
				"C": {0.01, 0.1, 1.0, 10.0},
			},
		},
	}
}

// DefaultCurveParams plots depth for trees, size for forests and C for
// logistic regression.
func DefaultCurveParams() map[string]string {
	return map[string]string{
		string(models.DecisionTree):       "max_depth",
		string(models.RandomForest):       "n_estimators",
		string(models.LogisticRegression): "C",
	}
}

// DefaultOptions returns options for the subscriber plan dataset.
func DefaultOptions(dataPath string) Options {
	return Options{
		DataPath:    dataPath,
		Load:        dataset.LoadOptions{Label: "is_ultra", RequireLabel: true},
		Split:       dataset.DefaultSplitConfig(),
		Search:      gridsearch.DefaultConfig(),
		Algorithms:  DefaultAlgorithms(),
		Baseline:    true,
		CompareRows: 10,
		CurveParams: DefaultCurveParams(),
	}
}

// Validate checks options that would otherwise fail deep inside a run.
func (o Options) Validate() error {
	if o.DataPath == "" {
		return errors.New("data path is required")
	}
	if o.Load.Label != "" {
		if err := validation.ValidateColumn(o.Load.Label); err != nil {
			return fmt.Errorf("label: %w", err)
		}
	}
	if len(o.Algorithms) == 0 {
		return errors.New("no algorithms enabled")
	}
	seen := make(map[models.Algorithm]bool)
	for _, a := range o.Algorithms {
		if _, err := models.ParseAlgorithm(string(a.Algorithm)); err != nil {
			return err
		}
		if a.Algorithm == models.Majority {
			return errors.New("majority is the baseline; enable it with the baseline option")
		}
		if seen[a.Algorithm] {
			return fmt.Errorf("algorithm %s listed twice", a.Algorithm)
		}
		seen[a.Algorithm] = true
	}
	if err := o.Split.Validate(); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	if o.Split.Validation == 0 && o.Split.Test == 0 {
		return errors.New("split: validation and test are both empty; nothing to evaluate on")
	}
	if o.CompareRows < 0 {
		return fmt.Errorf("compare rows must be >= 0, got %d", o.CompareRows)
	}
	return nil
}

// withSeed pins the seed of seeded algorithms to the run seed unless the
// grid already searches over it.
func withSeed(spec AlgorithmSpec, seed int64) gridsearch.Grid {
	if spec.Algorithm != models.DecisionTree && spec.Algorithm != models.RandomForest {
		return spec.Grid
	}
	if _, ok := spec.Grid["seed"]; ok {
		return spec.Grid
	}
	g := make(gridsearch.Grid, len(spec.Grid)+1)
	for k, v := range spec.Grid {
		g[k] = v
	}
	g["seed"] = []any{int(seed)}
	return g
}
