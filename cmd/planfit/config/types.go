// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"github.com/AleutianAI/planfit/internal/dataset"
	"github.com/AleutianAI/planfit/internal/gridsearch"
	"github.com/AleutianAI/planfit/internal/metrics"
	"github.com/AleutianAI/planfit/internal/models"
	"github.com/AleutianAI/planfit/internal/pipeline"
	"github.com/AleutianAI/planfit/internal/store"
	"github.com/AleutianAI/planfit/internal/telemetry"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

type PlanfitConfig struct {
	Version string `yaml:"version"`

	// Data: which CSV and which columns
	Data DataConfig `yaml:"data"`

	// Split: train/validation/test fractions
	Split SplitConfig `yaml:"split"`

	// Search: cross validation settings shared by all models
	Search SearchConfig `yaml:"search"`

	// Models: one entry per tuned algorithm
	Models []ModelConfig `yaml:"models" validate:"required,min=1,dive"`

	Baseline BaselineConfig `yaml:"baseline"`
	Report   ReportConfig   `yaml:"report"`
	Store    StoreConfig    `yaml:"store"`

	// Influx: optional metric export
	Influx InfluxConfig `yaml:"influx"`

	// GCS: artifact uploads for `planfit runs upload`
	GCS store.GCSConfig `yaml:"gcs"`

	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type DataConfig struct {
	Path     string   `yaml:"path"`
	Label    string   `yaml:"label" validate:"required"`
	Features []string `yaml:"features,omitempty"`
}

type SplitConfig struct {
	Train      float64 `yaml:"train" validate:"gt=0,lte=1"`
	Validation float64 `yaml:"validation" validate:"gte=0,lte=1"`
	Test       float64 `yaml:"test" validate:"gte=0,lte=1"`
	Seed       int64   `yaml:"seed"`
	Stratify   bool    `yaml:"stratify"`
}

type SearchConfig struct {
	Folds   int    `yaml:"folds" validate:"gte=2"`
	Scoring string `yaml:"scoring" validate:"oneof=accuracy f1 precision recall f1_macro"`

	// Parallelism bounds concurrent fold fits; 0 means one per CPU
	Parallelism int `yaml:"parallelism" validate:"gte=0"`

	// PositiveClass indexes the sorted class names for binary scorings
	PositiveClass int `yaml:"positive_class" validate:"gte=0"`
}

type ModelConfig struct {
	Algorithm string           `yaml:"algorithm" validate:"required,oneof=decision_tree random_forest logistic_regression"`
	Enabled   bool             `yaml:"enabled"`
	Grid      map[string][]any `yaml:"grid"`

	// CurveParam is the numeric parameter plotted against CV score
	CurveParam string `yaml:"curve_param,omitempty"`
}

type BaselineConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ReportConfig struct {
	CompareRows   int    `yaml:"compare_rows" validate:"gte=0"`
	Plots         bool   `yaml:"plots"`
	PlotDir       string `yaml:"plot_dir"`
	TopCandidates int    `yaml:"top_candidates" validate:"gte=0"`
}

type StoreConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type InfluxConfig struct {
	Enabled bool `yaml:"enabled"`

	store.InfluxConfig `yaml:",inline"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

func DefaultConfig() PlanfitConfig {
	var modelsCfg []ModelConfig
	curves := pipeline.DefaultCurveParams()
	for _, spec := range pipeline.DefaultAlgorithms() {
		modelsCfg = append(modelsCfg, ModelConfig{
			Algorithm:  string(spec.Algorithm),
			Enabled:    true,
			Grid:       spec.Grid,
			CurveParam: curves[string(spec.Algorithm)],
		})
	}

	tel := telemetry.DefaultConfig()
	return PlanfitConfig{
		Version: CurrentConfigVersion,
		Data: DataConfig{
			Path:  "users_behavior.csv",
			Label: "is_ultra",
		},
		Split: SplitConfig{
			Train:      0.6,
			Validation: 0.2,
			Test:       0.2,
			Seed:       12345,
			Stratify:   true,
		},
		Search: SearchConfig{
			Folds:         5,
			Scoring:       "accuracy",
			PositiveClass: 1,
		},
		Models:   modelsCfg,
		Baseline: BaselineConfig{Enabled: true},
		Report: ReportConfig{
			CompareRows:   10,
			Plots:         true,
			PlotDir:       "~/.planfit/plots",
			TopCandidates: 5,
		},
		Store: StoreConfig{
			Enabled:    true,
			Path:       "~/.planfit/runs",
			SyncWrites: true,
		},
		Influx: InfluxConfig{
			InfluxConfig: store.InfluxConfig{
				URL:    "http://localhost:8086",
				Org:    "planfit",
				Bucket: "planfit",
			},
		},
		GCS: store.GCSConfig{Prefix: "planfit/runs"},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.Config{
			TraceExporter:  tel.TraceExporter,
			MetricExporter: tel.MetricExporter,
			OTLPEndpoint:   tel.OTLPEndpoint,
			OTLPInsecure:   tel.OTLPInsecure,
		},
	}
}

// PipelineOptions converts the config into options for one run.
func (c *PlanfitConfig) PipelineOptions() pipeline.Options {
	opts := pipeline.Options{
		DataPath: ExpandHome(c.Data.Path),
		Load: dataset.LoadOptions{
			Label:        c.Data.Label,
			Features:     c.Data.Features,
			RequireLabel: true,
		},
		Split: dataset.SplitConfig{
			Train:      c.Split.Train,
			Validation: c.Split.Validation,
			Test:       c.Split.Test,
			Seed:       c.Split.Seed,
			Stratify:   c.Split.Stratify,
		},
		Search: gridsearch.Config{
			Folds:         c.Search.Folds,
			Scoring:       metrics.Scoring(c.Search.Scoring),
			Seed:          c.Split.Seed,
			Parallelism:   c.Search.Parallelism,
			PositiveClass: c.Search.PositiveClass,
		},
		Baseline:    c.Baseline.Enabled,
		CompareRows: c.Report.CompareRows,
		CurveParams: make(map[string]string),
	}
	for _, m := range c.Models {
		if !m.Enabled {
			continue
		}
		opts.Algorithms = append(opts.Algorithms, pipeline.AlgorithmSpec{
			Algorithm: models.Algorithm(m.Algorithm),
			Grid:      gridsearch.Grid(m.Grid),
		})
		if m.CurveParam != "" {
			opts.CurveParams[m.Algorithm] = m.CurveParam
		}
	}
	if c.Report.Plots {
		opts.PlotDir = ExpandHome(c.Report.PlotDir)
	}
	return opts
}
