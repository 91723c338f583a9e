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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/planfit/cmd/planfit/config"
	"github.com/AleutianAI/planfit/internal/pipeline"
	"github.com/AleutianAI/planfit/internal/report"
	"github.com/AleutianAI/planfit/internal/store"
	"github.com/AleutianAI/planfit/pkg/ux"
)

func runTrain(cmd *cobra.Command, args []string) error {
	applyTrainFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts := cfg.PipelineOptions()

	var st pipeline.RunStore
	noStore, _ := cmd.Flags().GetBool("no-store")
	if cfg.Store.Enabled && !noStore {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
	}

	var sink pipeline.RunSink
	if cfg.Influx.Enabled {
		s, err := store.NewInfluxSink(store.InfluxConfigFromEnv(cfg.Influx.InfluxConfig))
		if err != nil {
			return fmt.Errorf("influx: %w", err)
		}
		defer s.Close()
		sink = s
	}

	ux.Title("planfit train")
	ux.KeyValue("data", opts.DataPath)
	ux.KeyValue("label", opts.Load.Label)
	algos := make([]string, len(opts.Algorithms))
	for i, a := range opts.Algorithms {
		algos[i] = string(a.Algorithm)
	}
	ux.KeyValue("models", strings.Join(algos, ", "))
	ux.KeyValue("scoring", opts.Search.Scoring)

	spin := ux.NewSpinner("Searching hyperparameters")
	spin.Start()
	res, err := pipeline.NewRunner(logger, st, sink).Run(cmd.Context(), opts)
	spin.Stop()
	if err != nil {
		return err
	}

	printRun(res.Run, cfg.Report.TopCandidates)
	if st == nil {
		ux.Muted("Run not stored (--no-store or store.enabled=false).")
	}
	return nil
}

// applyTrainFlags copies explicitly set flags over the loaded config.
func applyTrainFlags(cmd *cobra.Command, c *config.PlanfitConfig) {
	f := cmd.Flags()
	if f.Changed("data") {
		c.Data.Path, _ = f.GetString("data")
	}
	if f.Changed("label") {
		c.Data.Label, _ = f.GetString("label")
	}
	if f.Changed("scoring") {
		c.Search.Scoring, _ = f.GetString("scoring")
	}
	if f.Changed("folds") {
		c.Search.Folds, _ = f.GetInt("folds")
	}
	if f.Changed("seed") {
		c.Split.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("parallelism") {
		c.Search.Parallelism, _ = f.GetInt("parallelism")
	}
	if f.Changed("plots") {
		c.Report.Plots, _ = f.GetBool("plots")
	}
	if f.Changed("compare") {
		c.Report.CompareRows, _ = f.GetInt("compare")
	}
	if f.Changed("influx") {
		c.Influx.Enabled, _ = f.GetBool("influx")
	}
}

// printRun renders the full report of a run.
func printRun(run *store.RunRecord, topCandidates int) {
	out := ux.Stdout()

	ux.Title("Data")
	ux.KeyValue("rows", run.Rows)
	ux.KeyValue("split", fmt.Sprintf("train %d / validation %d / test %d",
		run.TrainRows, run.ValidationRows, run.TestRows))
	ux.KeyValue("classes", strings.Join(run.Classes, ", "))
	ux.KeyValue("cv", fmt.Sprintf("%d-fold, scored by %s", run.Folds, run.Scoring))

	ux.Title("Model comparison")
	fmt.Fprint(out, report.SummaryTable(run))

	ux.Title("Selected hyperparameters")
	fmt.Fprint(out, report.ParamsTable(run))

	if topCandidates > 0 {
		for _, m := range run.Models {
			if len(m.Candidates) == 0 {
				continue
			}
			ux.Title("Top candidates: " + m.Algorithm)
			fmt.Fprint(out, report.CandidateTable(m, topCandidates))
		}
	}

	for _, m := range run.Models {
		if len(m.Confusion) == 0 {
			continue
		}
		ux.Title("Confusion matrix (test): " + m.Algorithm)
		fmt.Fprint(out, report.ConfusionTable(run.Classes, m.Confusion))
	}

	if w, ok := run.Model(run.Winner); ok && len(w.Confusion) > 0 {
		if text, err := report.ClassificationReport(run.Classes, w.Confusion); err == nil {
			ux.Title("Classification report: " + w.Algorithm)
			ux.Block(text)
		}
	}

	if imp := report.ImportanceTable(run); imp != "" {
		ux.Title("Feature importances")
		fmt.Fprint(out, imp)
	}

	if cmp := report.ComparisonTable(run); cmp != "" {
		ux.Title("Held-out predictions")
		fmt.Fprint(out, cmp)
	}

	if run.SanityPassed {
		ux.Success(fmt.Sprintf("%s beats the majority baseline", run.Winner))
	} else {
		ux.WarningBox("Sanity check failed",
			fmt.Sprintf("%s does not beat the majority-class baseline on held-out data.", run.Winner))
	}
	for _, a := range run.Artifacts {
		ux.KeyValue("plot", a)
	}
	ux.KeyValue("run id", run.ID)
	if run.TraceID != "" {
		ux.KeyValue("trace id", run.TraceID)
	}
}
