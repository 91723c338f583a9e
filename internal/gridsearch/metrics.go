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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Grid Search
// =============================================================================

var (
	// foldFits counts cross-validation fits.
	// Labels: algorithm, status (success, error)
	foldFits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planfit",
		Subsystem: "gridsearch",
		Name:      "fits_total",
		Help:      "Total cross-validation fits by algorithm and status",
	}, []string{"algorithm", "status"})

	// foldFitDuration measures the time to fit and score one fold.
	// Labels: algorithm
	foldFitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "planfit",
		Subsystem: "gridsearch",
		Name:      "fit_duration_seconds",
		Help:      "Time to fit and score one cross-validation fold",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"algorithm"})

	// candidatesEvaluated counts fully cross-validated candidates.
	// Labels: algorithm
	candidatesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planfit",
		Subsystem: "gridsearch",
		Name:      "candidates_total",
		Help:      "Total hyperparameter candidates evaluated",
	}, []string{"algorithm"})

	// bestScore tracks the best mean CV score of the latest search.
	// Labels: algorithm, scoring
	bestScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "planfit",
		Subsystem: "gridsearch",
		Name:      "best_score",
		Help:      "Best mean cross-validation score of the latest search",
	}, []string{"algorithm", "scoring"})
)

// recordFoldFit records one fold fit.
//
// Inputs:
//
//	algorithm - The model family.
//	ok - Whether the fit succeeded.
//	durationSec - Duration in seconds.
func recordFoldFit(algorithm string, ok bool, durationSec float64) {
	status := "success"
	if !ok {
		status = "error"
	}
	foldFits.WithLabelValues(algorithm, status).Inc()
	foldFitDuration.WithLabelValues(algorithm).Observe(durationSec)
}

// recordSearch records the outcome of a finished search.
func recordSearch(algorithm, scoring string, candidates int, best float64) {
	candidatesEvaluated.WithLabelValues(algorithm).Add(float64(candidates))
	bestScore.WithLabelValues(algorithm, scoring).Set(best)
}
