// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gridsearch tunes classifier hyperparameters with stratified k-fold
// cross validation.
//
// Every (candidate, fold) pair is an independent fit, so the search fans
// them out over a bounded errgroup and collects scores into a preallocated
// table. Ranking and refitting happen after all folds finish, which keeps
// the result independent of scheduling order.
package gridsearch

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/planfit/internal/dataset"
	"github.com/AleutianAI/planfit/internal/metrics"
	"github.com/AleutianAI/planfit/internal/models"
	"github.com/AleutianAI/planfit/pkg/logging"
)

// Config controls a search.
type Config struct {
	// Folds is k for stratified k-fold. Default 5.
	Folds int

	// Scoring ranks candidates. Default accuracy.
	Scoring metrics.Scoring

	// Seed drives fold assignment.
	Seed int64

	// Parallelism bounds concurrent fold fits. 0 means GOMAXPROCS.
	Parallelism int

	// PositiveClass is the class index used by binary scorings.
	PositiveClass int
}

// DefaultConfig returns 5 folds scored by accuracy.
func DefaultConfig() Config {
	return Config{Folds: 5, Scoring: metrics.Accuracy, Seed: 12345, PositiveClass: 1}
}

// Candidate is one hyperparameter combination and its fold scores.
type Candidate struct {
	Params     models.Params
	FoldScores []float64
	Mean       float64
	Std        float64
	// Rank is 1 for the best candidate.
	Rank    int
	FitTime time.Duration
}

// Result is the outcome of a search.
type Result struct {
	Algorithm  models.Algorithm
	Scoring    metrics.Scoring
	Folds      int
	Candidates []Candidate

	// Best indexes Candidates.
	Best int

	// Model is the best candidate refit on all rows.
	Model models.Classifier

	Elapsed time.Duration
}

// BestCandidate returns the winning candidate.
func (r *Result) BestCandidate() Candidate {
	return r.Candidates[r.Best]
}

// Searcher runs grid searches.
type Searcher struct {
	cfg    Config
	logger *logging.Logger
}

// NewSearcher validates cfg and fills defaults.
func NewSearcher(cfg Config, logger *logging.Logger) (*Searcher, error) {
	def := DefaultConfig()
	if cfg.Folds == 0 {
		cfg.Folds = def.Folds
	}
	if cfg.Folds < 2 {
		return nil, fmt.Errorf("folds must be >= 2, got %d", cfg.Folds)
	}
	if cfg.Scoring == "" {
		cfg.Scoring = def.Scoring
	}
	if _, err := metrics.ParseScoring(string(cfg.Scoring)); err != nil {
		return nil, err
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Searcher{cfg: cfg, logger: logger}, nil
}

// Config returns the effective configuration.
func (s *Searcher) Config() Config { return s.cfg }

// Search cross-validates every grid candidate for algorithm on (X, y) and
// refits the best one on all rows.
//
// Candidates are ranked by mean fold score, highest first. Equal means keep
// grid order, so the earlier candidate wins a tie.
func (s *Searcher) Search(ctx context.Context, algorithm models.Algorithm, grid Grid, X mat.Matrix, y []int, nClasses int) (*Result, error) {
	start := time.Now()

	params, err := grid.Expand()
	if err != nil {
		return nil, err
	}
	// Reject bad parameter combinations before spending time on folds.
	for _, p := range params {
		if _, err := models.New(algorithm, p); err != nil {
			return nil, err
		}
	}

	folds, err := dataset.StratifiedKFold(y, s.cfg.Folds, s.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("cross validation: %w", err)
	}

	s.logger.Info("grid search started",
		"algorithm", algorithm,
		"candidates", len(params),
		"folds", len(folds),
		"scoring", s.cfg.Scoring,
		"parallelism", s.cfg.Parallelism)

	scores := make([][]float64, len(params))
	fitNanos := make([][]int64, len(params))
	for i := range scores {
		scores[i] = make([]float64, len(folds))
		fitNanos[i] = make([]int64, len(folds))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for ci, p := range params {
		for fi, fold := range folds {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				t0 := time.Now()
				score, err := s.scoreFold(algorithm, p, X, y, nClasses, fold)
				elapsed := time.Since(t0)
				recordFoldFit(string(algorithm), err == nil, elapsed.Seconds())
				if err != nil {
					return fmt.Errorf("candidate %d (%s) fold %d: %w", ci, p, fi, err)
				}
				scores[ci][fi] = score
				fitNanos[ci][fi] = elapsed.Nanoseconds()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Algorithm:  algorithm,
		Scoring:    s.cfg.Scoring,
		Folds:      len(folds),
		Candidates: make([]Candidate, len(params)),
	}
	for i, p := range params {
		mean, std := stat.PopMeanStdDev(scores[i], nil)
		var total int64
		for _, n := range fitNanos[i] {
			total += n
		}
		res.Candidates[i] = Candidate{
			Params:     p,
			FoldScores: scores[i],
			Mean:       mean,
			Std:        std,
			FitTime:    time.Duration(total),
		}
	}

	order := make([]int, len(params))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return res.Candidates[order[a]].Mean > res.Candidates[order[b]].Mean
	})
	for rank, idx := range order {
		res.Candidates[idx].Rank = rank + 1
	}
	res.Best = order[0]

	best := res.Candidates[res.Best]
	model, err := models.New(algorithm, best.Params)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(X, y, nClasses); err != nil {
		return nil, fmt.Errorf("refit best %s: %w", algorithm, err)
	}
	res.Model = model
	res.Elapsed = time.Since(start)

	recordSearch(string(algorithm), string(s.cfg.Scoring), len(params), best.Mean)
	s.logger.Info("grid search finished",
		"algorithm", algorithm,
		"best_params", best.Params.String(),
		"best_score", best.Mean,
		"elapsed", res.Elapsed)
	return res, nil
}

func (s *Searcher) scoreFold(algorithm models.Algorithm, p models.Params, X mat.Matrix, y []int, nClasses int, fold dataset.Fold) (float64, error) {
	model, err := models.New(algorithm, p)
	if err != nil {
		return 0, err
	}
	if err := model.Fit(dataset.SelectRows(X, fold.Train), dataset.SelectLabels(y, fold.Train), nClasses); err != nil {
		return 0, err
	}
	pred, err := model.Predict(dataset.SelectRows(X, fold.Test))
	if err != nil {
		return 0, err
	}
	return metrics.Score(s.cfg.Scoring, dataset.SelectLabels(y, fold.Test), pred, nClasses, s.cfg.PositiveClass)
}
