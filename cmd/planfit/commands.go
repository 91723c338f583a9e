// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/planfit/cmd/planfit/config"
	"github.com/AleutianAI/planfit/internal/store"
	"github.com/AleutianAI/planfit/internal/telemetry"
	"github.com/AleutianAI/planfit/pkg/logging"
	"github.com/AleutianAI/planfit/pkg/ux"
	"github.com/AleutianAI/planfit/pkg/validation"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configPath       string
	logLevel         string
	logJSON          bool
	logDir           string
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	cfg      *config.PlanfitConfig
	logger   *logging.Logger
	shutdown func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "planfit",
		Short: "Tune and compare classifiers for premium plan recommendations",
		Long: `planfit loads subscriber usage data, grid-searches decision tree,
random forest and logistic regression models with k-fold cross validation,
and reports how they compare on held-out data.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	// --- Training ---
	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Run the full split, search, evaluate and report pipeline",
		Args:  cobra.NoArgs,
		RunE:  runTrain, // Defined in cmd_train.go
	}
	describeCmd = &cobra.Command{
		Use:   "describe",
		Short: "Print an exploratory summary of a dataset",
		Args:  cobra.NoArgs,
		RunE:  runDescribe, // Defined in cmd_describe.go
	}
	predictCmd = &cobra.Command{
		Use:   "predict",
		Short: "Score a CSV with a stored model",
		Args:  cobra.NoArgs,
		RunE:  runPredict, // Defined in cmd_predict.go
	}

	// --- Run History ---
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage stored training runs",
	}
	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runRunsList, // Defined in cmd_runs.go
	}
	runsShowCmd = &cobra.Command{
		Use:   "show [run_id]",
		Short: "Print the full report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	}
	runsExportCmd = &cobra.Command{
		Use:   "export [run_id]",
		Short: "Export run scores to CSV or JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsExport,
	}
	runsDeleteCmd = &cobra.Command{
		Use:   "delete [run_id]",
		Short: "Delete a run and its models",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsDelete,
	}
	runsUploadCmd = &cobra.Command{
		Use:   "upload [run_id]",
		Short: "Upload a run's plots and score export to Google Cloud Storage",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsUpload,
	}

	// --- Config ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the planfit configuration file",
	}
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit, // Defined in cmd_config.go
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the planfit version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "planfit %s\n", version)
		},
	}
)

// init runs when the Go program starts
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default ~/.planfit/planfit.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.BoolVar(&logJSON, "log-json", false, "Log as JSON lines")
	pf.StringVar(&logDir, "log-dir", "", "Also write JSON logs to this directory")
	pf.StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(trainCmd)
	tf := trainCmd.Flags()
	tf.String("data", "", "CSV file to train on (overrides data.path)")
	tf.String("label", "", "Label column (overrides data.label)")
	tf.String("scoring", "", "Model selection score: accuracy, f1, precision, recall, f1_macro")
	tf.Int("folds", 0, "Cross validation folds")
	tf.Int64("seed", 0, "Random seed for splitting, folds and tree sampling")
	tf.Int("parallelism", 0, "Concurrent fold fits (0 = one per CPU)")
	tf.Bool("plots", false, "Write PNG charts for the run")
	tf.Int("compare", 0, "Held-out rows in the side-by-side prediction table")
	tf.Bool("no-store", false, "Do not persist the run")
	tf.Bool("influx", false, "Export scores to InfluxDB")

	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().String("data", "", "CSV file to describe (overrides data.path)")
	describeCmd.Flags().String("label", "", "Label column (overrides data.label)")

	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().String("run", "", "Run ID or prefix (default: latest run)")
	predictCmd.Flags().String("model", "", "Algorithm to use (default: the run's winner)")
	predictCmd.Flags().String("data", "", "CSV file to score")
	predictCmd.Flags().StringP("output", "o", "", "Output CSV (default: stdout)")
	_ = predictCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsListCmd.Flags().Int("limit", 20, "Maximum runs to list (0 = all)")
	runsCmd.AddCommand(runsShowCmd)
	runsShowCmd.Flags().Int("candidates", 0, "Also list the top N grid candidates per model")
	runsCmd.AddCommand(runsExportCmd)
	runsExportCmd.Flags().StringP("output", "o", "", "Output filename (default: run_{id}.{format})")
	runsExportCmd.Flags().String("format", "csv", "Export format: csv or json")
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsUploadCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(versionCmd)
}

// setup loads config and starts logging and telemetry for every command.
func setup(cmd *cobra.Command, args []string) error {
	ux.InitPersonality(personalityLevel)

	if cmd == configInitCmd || cmd == versionCmd {
		logger = logging.Discard()
		return nil
	}

	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}

	levelName := cfg.Logging.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	dir := cfg.Logging.Dir
	if logDir != "" {
		dir = logDir
	}
	logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  dir,
		Service: "planfit",
		JSON:    logJSON || cfg.Logging.JSON,
	})

	tel := cfg.Telemetry
	tel.ServiceName = "planfit"
	tel.ServiceVersion = version
	shutdown, err = telemetry.Init(cmd.Context(), tel)
	if err != nil {
		return err
	}
	return nil
}

// teardown flushes telemetry and closes the logger. It runs after every
// command, including failed ones.
func teardown() error {
	if logger == nil {
		logger = logging.Discard()
	}
	if shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
		shutdown = nil
	}
	if cfg != nil && cfg.Telemetry.MetricsFile != "" {
		if err := telemetry.WriteMetricsFile(config.ExpandHome(cfg.Telemetry.MetricsFile), nil); err != nil {
			logger.Warn("failed to write metrics file", "error", err)
		}
	}
	return logger.Close()
}

// openStore opens the configured run store.
func openStore() (*store.Store, error) {
	sc := store.DefaultConfig(config.ExpandHome(cfg.Store.Path))
	sc.SyncWrites = cfg.Store.SyncWrites
	sc.Logger = logger.Slog()
	st, err := store.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return st, nil
}

// resolveRun finds a run by ID prefix, or the newest run when id is empty.
func resolveRun(ctx context.Context, st *store.Store, id string) (*store.RunRecord, error) {
	if id == "" {
		runs, err := st.ListRuns(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, errors.New("no stored runs; train one with `planfit train`")
		}
		return runs[0], nil
	}
	full, err := resolveID(ctx, st, id)
	if err != nil {
		return nil, err
	}
	return st.GetRun(ctx, full)
}

// resolveID normalizes a user-typed run ID prefix and expands it.
func resolveID(ctx context.Context, st *store.Store, id string) (string, error) {
	prefix, err := validation.SanitizeRunID(id)
	if err != nil {
		return "", err
	}
	return st.ResolveID(ctx, prefix)
}
