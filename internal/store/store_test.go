// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/planfit/internal/models"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, created time.Time) *RunRecord {
	return &RunRecord{
		ID:        id,
		CreatedAt: created,
		Label:     "is_ultra",
		Features:  []string{"calls", "minutes"},
		Classes:   []string{"0", "1"},
		Scoring:   "accuracy",
		Winner:    "random_forest",
		Models: []ModelRecord{
			{
				Algorithm:  "random_forest",
				Params:     map[string]string{"n_estimators": "50"},
				CVMean:     0.8,
				Validation: map[string]float64{"accuracy": 0.81, "f1": 0.6},
				Test:       map[string]float64{"accuracy": 0.79, "f1": 0.58},
				Confusion:  [][]int{{40, 5}, {8, 12}},
			},
			{
				Algorithm: "majority",
				Test:      map[string]float64{"accuracy": 0.69},
				Baseline:  true,
			},
		},
	}
}

func fittedBundle(t *testing.T) *models.Bundle {
	t.Helper()
	m, err := models.New(models.DecisionTree, models.Params{"max_depth": 2})
	require.NoError(t, err)
	x := mat.NewDense(4, 2, []float64{1, 0, 2, 0, 8, 1, 9, 1})
	require.NoError(t, m.Fit(x, []int{0, 0, 1, 1}, 2))
	return models.NewBundle(m, []string{"calls", "minutes"}, "is_ultra", []string{"0", "1"})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorContains(t, err, "path is required")
}

func TestConfigFunctions(t *testing.T) {
	cfg := DefaultConfig("/tmp/x")
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, "/tmp/x", cfg.Path)

	mem := InMemoryConfig()
	assert.True(t, mem.InMemory)
	assert.False(t, mem.SyncWrites)
}

func TestRunRoundTrip(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	run := sampleRun("abc-123", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.SaveRun(ctx, run))
	got, err := s.GetRun(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, run.Winner, got.Winner)
	assert.Equal(t, run.Models[0].Confusion, got.Models[0].Confusion)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))

	m, ok := got.Model("majority")
	require.True(t, ok)
	assert.True(t, m.Baseline)
	_, ok = got.Model("svm")
	assert.False(t, ok)

	_, err = s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.SaveRun(ctx, &RunRecord{}))
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// Key order (a, b, c) differs from time order (b, c, a).
	require.NoError(t, s.SaveRun(ctx, sampleRun("a", base)))
	require.NoError(t, s.SaveRun(ctx, sampleRun("b", base.Add(2*time.Hour))))
	require.NoError(t, s.SaveRun(ctx, sampleRun("c", base.Add(time.Hour))))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestResolveID(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.SaveRun(ctx, sampleRun("1234abcd", now)))
	require.NoError(t, s.SaveRun(ctx, sampleRun("1299ffff", now)))

	id, err := s.ResolveID(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, "1234abcd", id)

	_, err = s.ResolveID(ctx, "12")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = s.ResolveID(ctx, "9")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ResolveID(ctx, "")
	assert.Error(t, err)

	_, err = s.ResolveID(ctx, "../model")
	assert.ErrorContains(t, err, "invalid run id")
}

func TestModels(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleRun("r1", time.Now())))
	require.NoError(t, s.SaveModel(ctx, "r1", fittedBundle(t)))

	names, err := s.ListModels(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"decision_tree"}, names)

	b, err := s.LoadModel(ctx, "r1", "decision_tree")
	require.NoError(t, err)
	pred, err := b.Model.Predict(mat.NewDense(2, 2, []float64{0, 0, 10, 1}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, pred)

	_, err = s.LoadModel(ctx, "r1", "random_forest")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRun(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleRun("r1", time.Now())))
	require.NoError(t, s.SaveRun(ctx, sampleRun("r2", time.Now())))
	require.NoError(t, s.SaveModel(ctx, "r1", fittedBundle(t)))
	require.NoError(t, s.SaveModel(ctx, "r2", fittedBundle(t)))

	require.NoError(t, s.DeleteRun(ctx, "r1"))

	_, err := s.GetRun(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	names, err := s.ListModels(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, names)

	names, err = s.ListModels(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, []string{"decision_tree"}, names)

	assert.ErrorIs(t, s.DeleteRun(ctx, "r1"), ErrNotFound)
}

func TestCancelledContext(t *testing.T) {
	s := openMem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetRun(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPersistentStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	assert.Equal(t, dir, s.Path())
	require.NoError(t, s.SaveRun(context.Background(), sampleRun("p1", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	run, err := s.GetRun(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", run.ID)
	assert.NoError(t, s.GC())
}

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (f *fakeWriter) WritePoint(_ context.Context, point ...*write.Point) error {
	f.points = append(f.points, point...)
	return f.err
}

func TestInfluxPoints(t *testing.T) {
	run := sampleRun("r1", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	points := Points(run)
	// random_forest: validation + test, majority: test only.
	require.Len(t, points, 3)

	p := points[0]
	assert.Equal(t, "model_evaluations", p.Name())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{
		"run_id": "r1", "algorithm": "random_forest", "split": "validation", "winner": "true",
	}, tags)
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 0.81, fields["accuracy"])
	assert.Equal(t, 0.8, fields["cv_mean"])
	assert.True(t, run.CreatedAt.Equal(p.Time()))
}

func TestInfluxSinkWriteRun(t *testing.T) {
	fw := &fakeWriter{}
	sink := &InfluxSink{writer: fw}
	n, err := sink.WriteRun(context.Background(), sampleRun("r1", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, fw.points, 3)

	fw.err = errors.New("unauthorized")
	_, err = sink.WriteRun(context.Background(), sampleRun("r1", time.Now()))
	assert.ErrorContains(t, err, "unauthorized")

	n, err = sink.WriteRun(context.Background(), &RunRecord{ID: "empty"})
	require.NoError(t, err)
	assert.Zero(t, n)
	sink.Close()
}

func TestNewInfluxSinkValidation(t *testing.T) {
	_, err := NewInfluxSink(InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}

func TestInfluxConfigFromEnv(t *testing.T) {
	t.Setenv("INFLUXDB_URL", "http://influx:8086")
	t.Setenv("INFLUXDB_ORG", "env-org")
	cfg := InfluxConfigFromEnv(InfluxConfig{Org: "file-org"})
	assert.Equal(t, "http://influx:8086", cfg.URL)
	assert.Equal(t, "file-org", cfg.Org)
}

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

func TestGCSUploadRun(t *testing.T) {
	dir := t.TempDir()
	plot := filepath.Join(dir, "metrics.png")
	require.NoError(t, os.WriteFile(plot, []byte("png-bytes"), 0o644))

	objects := map[string]*bufCloser{}
	u := &GCSUploader{
		bucket: "models",
		prefix: "planfit/runs",
		logger: slog.New(slog.DiscardHandler),
		open: func(_ context.Context, object string) io.WriteCloser {
			b := &bufCloser{}
			objects[object] = b
			return b
		},
	}
	uris, err := u.UploadRun(context.Background(), "r1", []string{plot})
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://models/planfit/runs/r1/metrics.png"}, uris)

	obj := objects["planfit/runs/r1/metrics.png"]
	require.NotNil(t, obj)
	assert.Equal(t, "png-bytes", obj.String())
	assert.True(t, obj.closed)

	_, err = u.UploadRun(context.Background(), "r1", []string{filepath.Join(dir, "missing.csv")})
	assert.Error(t, err)

	_, err = u.UploadRun(context.Background(), "../other", []string{plot})
	assert.ErrorContains(t, err, "invalid run id")
	assert.Len(t, objects, 1)
	assert.NoError(t, u.Close())
}

func TestNewGCSUploaderValidation(t *testing.T) {
	_, err := NewGCSUploader(context.Background(), GCSConfig{}, nil)
	assert.ErrorContains(t, err, "bucket")

	_, err = NewGCSUploader(context.Background(), GCSConfig{Bucket: "b", CredentialsFile: "/does/not/exist.json"}, nil)
	assert.ErrorContains(t, err, "service account key not found")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("a/b.png"))
	assert.Equal(t, "text/csv", contentType("x.csv"))
	assert.Equal(t, "application/octet-stream", contentType("model.gob"))
}
