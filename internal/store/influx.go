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
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxConfig locates the InfluxDB bucket receiving evaluation points.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// InfluxConfigFromEnv fills empty fields from INFLUXDB_URL, INFLUXDB_TOKEN,
// INFLUXDB_ORG and INFLUXDB_BUCKET.
func InfluxConfigFromEnv(cfg InfluxConfig) InfluxConfig {
	fill := func(v *string, key string) {
		if *v == "" {
			*v = os.Getenv(key)
		}
	}
	fill(&cfg.URL, "INFLUXDB_URL")
	fill(&cfg.Token, "INFLUXDB_TOKEN")
	fill(&cfg.Org, "INFLUXDB_ORG")
	fill(&cfg.Bucket, "INFLUXDB_BUCKET")
	return cfg
}

// pointWriter is the subset of api.WriteAPIBlocking the sink needs.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes model evaluation scores as time series points.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
}

// NewInfluxSink connects a blocking writer to the configured bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Points builds one model_evaluations point per model and split
// (validation, test). Each point carries every metric as a field.
func Points(run *RunRecord) []*write.Point {
	var out []*write.Point
	for _, m := range run.Models {
		for _, split := range []struct {
			name   string
			scores map[string]float64
		}{
			{"validation", m.Validation},
			{"test", m.Test},
		} {
			if len(split.scores) == 0 {
				continue
			}
			p := influxdb2.NewPointWithMeasurement("model_evaluations").
				AddTag("run_id", run.ID).
				AddTag("algorithm", m.Algorithm).
				AddTag("split", split.name).
				AddTag("winner", fmt.Sprintf("%t", m.Algorithm == run.Winner)).
				AddField("cv_mean", m.CVMean).
				SetTime(run.CreatedAt)
			keys := make([]string, 0, len(split.scores))
			for k := range split.scores {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				p.AddField(k, split.scores[k])
			}
			out = append(out, p)
		}
	}
	return out
}

// WriteRun writes every evaluation point of run.
func (s *InfluxSink) WriteRun(ctx context.Context, run *RunRecord) (int, error) {
	points := Points(run)
	if len(points) == 0 {
		return 0, nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return 0, fmt.Errorf("write influx points: %w", err)
	}
	return len(points), nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
