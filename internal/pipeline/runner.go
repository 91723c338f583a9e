// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs a complete planfit training run.
//
// A run loads the CSV, splits it, grid-searches every enabled algorithm on
// the training partition, picks a winner on the validation partition,
// scores every model on the test partition against a majority-class
// baseline and finally persists the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/planfit/internal/dataset"
	"github.com/AleutianAI/planfit/internal/gridsearch"
	"github.com/AleutianAI/planfit/internal/metrics"
	"github.com/AleutianAI/planfit/internal/models"
	"github.com/AleutianAI/planfit/internal/report"
	"github.com/AleutianAI/planfit/internal/store"
	"github.com/AleutianAI/planfit/internal/telemetry"
	"github.com/AleutianAI/planfit/pkg/logging"
)

const tracerName = "planfit.pipeline"

var meter = otel.Meter(tracerName)

// ErrNilContext is returned when Run is called with a nil context.
var ErrNilContext = errors.New("context must not be nil")

// RunStore persists finished runs. *store.Store implements it.
type RunStore interface {
	SaveRun(ctx context.Context, run *store.RunRecord) error
	SaveModel(ctx context.Context, runID string, b *models.Bundle) error
}

// RunSink exports run metrics to a time-series backend. *store.InfluxSink
// implements it.
type RunSink interface {
	WriteRun(ctx context.Context, run *store.RunRecord) (int, error)
}

// Result is everything a run produced.
type Result struct {
	Run        *store.RunRecord
	Summary    *dataset.Summary
	Partitions *dataset.Partitions

	// Searches holds the grid search of each tuned algorithm.
	Searches map[models.Algorithm]*gridsearch.Result

	// Bundles holds one fitted model per algorithm, baseline included.
	Bundles []*models.Bundle

	// Reports holds the held-out evaluation of each model.
	Reports map[string]*metrics.Report
}

// Runner executes training runs. It is safe for concurrent use.
type Runner struct {
	logger *logging.Logger
	store  RunStore
	sink   RunSink

	metricsOnce   sync.Once
	runDuration   metric.Float64Histogram
	stepDuration  metric.Float64Histogram
	modelScore    metric.Float64Gauge
	runsCompleted metric.Int64Counter
}

// NewRunner builds a Runner. st and sink may be nil to skip persistence
// and metric export.
func NewRunner(logger *logging.Logger, st RunStore, sink RunSink) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{logger: logger, store: st, sink: sink}
}

// initMetrics creates the otel instruments once. A failed instrument only
// degrades observability.
func (r *Runner) initMetrics() {
	r.metricsOnce.Do(func() {
		var errs []error
		var err error

		r.runDuration, err = meter.Float64Histogram("planfit_run_duration_seconds",
			metric.WithDescription("Wall time of a full training run"),
			metric.WithUnit("s"),
		)
		errs = append(errs, err)

		r.stepDuration, err = meter.Float64Histogram("planfit_step_duration_seconds",
			metric.WithDescription("Wall time of each pipeline step"),
			metric.WithUnit("s"),
		)
		errs = append(errs, err)

		r.modelScore, err = meter.Float64Gauge("planfit_model_score",
			metric.WithDescription("Latest score of a model on a data split"),
		)
		errs = append(errs, err)

		r.runsCompleted, err = meter.Int64Counter("planfit_runs_total",
			metric.WithDescription("Training runs by outcome"),
		)
		errs = append(errs, err)

		if err := errors.Join(errs...); err != nil {
			r.logger.Error("failed to initialize pipeline metrics", "error", err)
		}
	})
}

// step times fn under its own span.
func (r *Runner) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if r.stepDuration != nil {
		r.stepDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("step", name)))
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	r.logger.Debug("step finished", "step", name, "duration", time.Since(start))
	return nil
}

// modelRun carries one model through evaluation.
type modelRun struct {
	record   store.ModelRecord
	model    models.Classifier
	selectBy float64
}

// Run executes one training run.
func (r *Runner) Run(ctx context.Context, opts Options) (res *Result, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r.initMetrics()

	runID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.data", opts.DataPath),
			attribute.Int("run.algorithms", len(opts.Algorithms)),
		))
	defer span.End()

	start := time.Now()
	logger := r.logger.With("run_id", runID)
	logger.Info("run started", "data", opts.DataPath, "algorithms", len(opts.Algorithms))

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.SetStatus(codes.Error, err.Error())
			logger.Error("run failed", "error", err)
		}
		if r.runsCompleted != nil {
			r.runsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
		if r.runDuration != nil {
			r.runDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	res = &Result{
		Searches: make(map[models.Algorithm]*gridsearch.Result),
		Reports:  make(map[string]*metrics.Report),
	}

	var data *dataset.Dataset
	err = r.step(ctx, "load", func(context.Context) error {
		loadOpts := opts.Load
		loadOpts.RequireLabel = true
		var err error
		if data, err = dataset.Load(opts.DataPath, loadOpts); err != nil {
			return err
		}
		if res.Summary, err = dataset.Describe(data); err != nil {
			return err
		}
		res.Partitions, err = dataset.Split(data, opts.Split)
		return err
	})
	if err != nil {
		return nil, err
	}
	parts := res.Partitions
	logger.Info("dataset split",
		"rows", data.Rows(),
		"train", parts.Train.Rows(),
		"validation", parts.Validation.Rows(),
		"test", parts.Test.Rows(),
	)

	searchCfg := opts.Search
	searchCfg.Seed = opts.Split.Seed
	searcher, err := gridsearch.NewSearcher(searchCfg, logger)
	if err != nil {
		return nil, err
	}
	searchCfg = searcher.Config()
	positive := searchCfg.PositiveClass
	nClasses := len(data.Classes)

	var runs []*modelRun
	for _, spec := range opts.Algorithms {
		var sr *gridsearch.Result
		err := r.step(ctx, "search."+string(spec.Algorithm), func(ctx context.Context) error {
			var err error
			sr, err = searcher.Search(ctx, spec.Algorithm, withSeed(spec, opts.Split.Seed),
				parts.Train.X, parts.Train.Y, nClasses)
			return err
		})
		if err != nil {
			return nil, err
		}
		res.Searches[spec.Algorithm] = sr
		runs = append(runs, newModelRun(sr, data.Features))
		best := sr.BestCandidate()
		logger.Info("search finished",
			"algorithm", spec.Algorithm,
			"candidates", len(sr.Candidates),
			"best_params", best.Params.String(),
			"cv_mean", best.Mean,
		)
	}

	var baseline *modelRun
	if opts.Baseline {
		m, err := models.New(models.Majority, nil)
		if err != nil {
			return nil, err
		}
		if err := m.Fit(parts.Train.X, parts.Train.Y, nClasses); err != nil {
			return nil, fmt.Errorf("fit baseline: %w", err)
		}
		baseline = &modelRun{
			model: m,
			record: store.ModelRecord{
				Algorithm: string(models.Majority),
				Params:    map[string]string{},
				Baseline:  true,
			},
		}
	}
	all := runs
	if baseline != nil {
		all = append(append([]*modelRun(nil), runs...), baseline)
	}

	err = r.step(ctx, "evaluate", func(ctx context.Context) error {
		for _, m := range all {
			if parts.Validation.Rows() > 0 {
				rep, err := r.evaluate(ctx, m, parts.Validation, "validation", positive)
				if err != nil {
					return err
				}
				m.record.Validation = scoreMap(rep, positive)
				if m.selectBy, err = rep.Value(searchCfg.Scoring, positive); err != nil {
					return err
				}
			} else {
				m.selectBy = m.record.CVMean
			}
			if parts.Test.Rows() > 0 {
				rep, err := r.evaluate(ctx, m, parts.Test, "test", positive)
				if err != nil {
					return err
				}
				m.record.Test = scoreMap(rep, positive)
				m.record.Confusion = rep.Matrix2D()
				res.Reports[m.record.Algorithm] = rep
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	winner := pickWinner(runs)
	holdout := parts.Test
	if holdout.Rows() == 0 {
		holdout = parts.Validation
	}
	sanity := true
	if baseline != nil {
		sanity = beatsBaseline(winner, baseline, parts.Test.Rows() > 0)
		if !sanity {
			logger.Warn("winner does not beat the majority baseline",
				"winner", winner.record.Algorithm)
		}
	}

	run := &store.RunRecord{
		ID:             runID,
		CreatedAt:      start.UTC(),
		DataPath:       opts.DataPath,
		Label:          data.Label,
		Features:       data.Features,
		Classes:        data.Classes,
		Rows:           data.Rows(),
		TrainRows:      parts.Train.Rows(),
		ValidationRows: parts.Validation.Rows(),
		TestRows:       parts.Test.Rows(),
		Scoring:        string(searchCfg.Scoring),
		Folds:          searchCfg.Folds,
		Seed:           opts.Split.Seed,
		Winner:         winner.record.Algorithm,
		SanityPassed:   sanity,
		TraceID:        telemetry.TraceID(ctx),
	}
	for _, m := range all {
		run.Models = append(run.Models, m.record)
	}
	if opts.CompareRows > 0 {
		if run.Comparison, err = compareRows(all, holdout, opts.CompareRows); err != nil {
			return nil, err
		}
	}

	if opts.PlotDir != "" {
		_ = r.step(ctx, "plot", func(context.Context) error {
			files, err := report.PlotRun(run, filepath.Join(opts.PlotDir, runID), opts.CurveParams)
			run.Artifacts = append(run.Artifacts, files...)
			if err != nil {
				logger.Warn("plotting failed", "error", err)
			}
			return nil
		})
	}

	for _, m := range all {
		b := models.NewBundle(m.model, data.Features, data.Label, data.Classes)
		for k, v := range m.record.Test {
			b.Metrics[k] = v
		}
		res.Bundles = append(res.Bundles, b)
	}
	run.Duration = time.Since(start)

	if r.store != nil {
		err = r.step(ctx, "store", func(ctx context.Context) error {
			if err := r.store.SaveRun(ctx, run); err != nil {
				return err
			}
			for _, b := range res.Bundles {
				if err := r.store.SaveModel(ctx, runID, b); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if r.sink != nil {
		_ = r.step(ctx, "export", func(ctx context.Context) error {
			n, err := r.sink.WriteRun(ctx, run)
			if err != nil {
				logger.Warn("metric export failed", "error", err)
				return nil
			}
			logger.Debug("exported run metrics", "points", n)
			return nil
		})
	}

	res.Run = run
	span.SetAttributes(
		attribute.String("run.winner", run.Winner),
		attribute.Bool("run.sanity_passed", run.SanityPassed),
	)
	logger.Info("run finished",
		"winner", run.Winner,
		"sanity_passed", run.SanityPassed,
		"duration", run.Duration,
	)
	return res, nil
}

func newModelRun(sr *gridsearch.Result, features []string) *modelRun {
	best := sr.BestCandidate()
	rec := store.ModelRecord{
		Algorithm: string(sr.Algorithm),
		Params:    stringParams(sr.Model.Params()),
		CVMean:    best.Mean,
		CVStd:     best.Std,
	}
	for _, c := range sr.Candidates {
		rec.Candidates = append(rec.Candidates, store.CandidateRecord{
			Params: stringParams(c.Params),
			Mean:   c.Mean,
			Std:    c.Std,
			Rank:   c.Rank,
		})
	}
	if fi, ok := sr.Model.(models.FeatureImporter); ok {
		imp := fi.FeatureImportances()
		rec.Importances = make(map[string]float64, len(imp))
		for j, v := range imp {
			if j < len(features) {
				rec.Importances[features[j]] = v
			}
		}
	}
	return &modelRun{record: rec, model: sr.Model}
}

func (r *Runner) evaluate(ctx context.Context, m *modelRun, part *dataset.Dataset, split string, positive int) (*metrics.Report, error) {
	pred, err := m.model.Predict(part.X)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", m.record.Algorithm, split, err)
	}
	rep, err := metrics.Evaluate(part.Y, pred, part.Classes)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", m.record.Algorithm, split, err)
	}
	if r.modelScore != nil {
		r.modelScore.Record(ctx, rep.Accuracy, metric.WithAttributes(
			attribute.String("algorithm", m.record.Algorithm),
			attribute.String("split", split),
			attribute.String("metric", string(metrics.Accuracy)),
		))
	}
	return rep, nil
}

// scoreMap flattens a report into the metric names stored per split.
func scoreMap(rep *metrics.Report, positive int) map[string]float64 {
	out := make(map[string]float64, len(report.MetricNames))
	for _, name := range report.MetricNames {
		v, err := rep.Value(metrics.Scoring(name), positive)
		if err != nil {
			continue
		}
		out[name] = v
	}
	return out
}

// pickWinner returns the highest selection score. Earlier models win ties.
func pickWinner(runs []*modelRun) *modelRun {
	best := runs[0]
	for _, m := range runs[1:] {
		if m.selectBy > best.selectBy {
			best = m
		}
	}
	return best
}

// beatsBaseline reports whether the winner's held-out accuracy is strictly
// above the majority baseline's.
func beatsBaseline(winner, baseline *modelRun, onTest bool) bool {
	scores := func(m *modelRun) map[string]float64 {
		if onTest {
			return m.record.Test
		}
		return m.record.Validation
	}
	return scores(winner)["accuracy"] > scores(baseline)["accuracy"]
}

// compareRows predicts the first n rows of part with every model.
func compareRows(all []*modelRun, part *dataset.Dataset, n int) ([]store.ComparisonRow, error) {
	n = min(n, part.Rows())
	if n == 0 {
		return nil, nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sub := part.Subset(idx)

	rows := make([]store.ComparisonRow, n)
	for i := range rows {
		rows[i] = store.ComparisonRow{
			Row:       i,
			Features:  sub.X.RawRowView(i),
			Actual:    sub.Classes[sub.Y[i]],
			Predicted: make(map[string]string, len(all)),
		}
	}
	for _, m := range all {
		pred, err := m.model.Predict(sub.X)
		if err != nil {
			return nil, fmt.Errorf("compare %s: %w", m.record.Algorithm, err)
		}
		for i, p := range pred {
			rows[i].Predicted[m.record.Algorithm] = sub.Classes[p]
		}
	}
	return rows, nil
}

func stringParams(p models.Params) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		switch t := v.(type) {
		case float64:
			out[k] = strconv.FormatFloat(t, 'g', -1, 64)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
