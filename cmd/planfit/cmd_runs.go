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
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/planfit/internal/report"
	"github.com/AleutianAI/planfit/internal/store"
	"github.com/AleutianAI/planfit/pkg/ux"
)

func runRunsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ux.Info("No stored runs.")
		return nil
	}
	fmt.Fprint(ux.Stdout(), report.RunsTable(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	top, _ := cmd.Flags().GetInt("candidates")
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := resolveRun(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	printRun(run, top)
	return nil
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	if format != "csv" && format != "json" {
		return fmt.Errorf("unknown export format %q (want csv or json)", format)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := resolveRun(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	if output == "" {
		output = fmt.Sprintf("run_%s.%s", run.ID, format)
	}
	if err := exportRunFile(output, run, format); err != nil {
		return err
	}
	ux.Success("Exported run to " + output)
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := resolveID(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	if err := st.DeleteRun(cmd.Context(), id); err != nil {
		return err
	}
	logger.Info("deleted run", "run_id", id)
	ux.Success("Deleted run " + id)
	return nil
}

func runRunsUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.GCS.Bucket == "" {
		return errors.New("gcs.bucket is not configured")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := resolveRun(ctx, st, args[0])
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "planfit-upload-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	files := []string{filepath.Join(tmp, "scores.csv"), filepath.Join(tmp, "run.json")}
	if err := exportRunFile(files[0], run, "csv"); err != nil {
		return err
	}
	if err := exportRunFile(files[1], run, "json"); err != nil {
		return err
	}
	for _, a := range run.Artifacts {
		if _, err := os.Stat(a); err != nil {
			ux.Warning("skipping missing artifact " + a)
			continue
		}
		files = append(files, a)
	}

	up, err := store.NewGCSUploader(ctx, cfg.GCS, logger.Slog())
	if err != nil {
		return err
	}
	defer up.Close()

	uris, err := up.UploadRun(ctx, run.ID, files)
	if err != nil {
		return err
	}
	for _, u := range uris {
		ux.KeyValue("uploaded", u)
	}
	ux.Success(fmt.Sprintf("Uploaded %d files for run %s", len(uris), run.ID))
	return nil
}

func exportRunFile(path string, run *store.RunRecord, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	if err := exportRun(f, run, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// exportRun writes the run as indented JSON, or as a long-format CSV with
// one row per model, split and metric.
func exportRun(w io.Writer, run *store.RunRecord, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"run_id", "algorithm", "baseline", "winner", "split", "metric", "value"}); err != nil {
		return err
	}
	for _, m := range run.Models {
		write := func(split, metric string, v float64) error {
			return cw.Write([]string{
				run.ID,
				m.Algorithm,
				strconv.FormatBool(m.Baseline),
				strconv.FormatBool(m.Algorithm == run.Winner),
				split,
				metric,
				strconv.FormatFloat(v, 'f', 6, 64),
			})
		}
		if len(m.Candidates) > 0 {
			if err := write("cv", "mean", m.CVMean); err != nil {
				return err
			}
			if err := write("cv", "std", m.CVStd); err != nil {
				return err
			}
		}
		for _, split := range []struct {
			name   string
			scores map[string]float64
		}{{"validation", m.Validation}, {"test", m.Test}} {
			for _, k := range sortedKeys(split.scores) {
				if err := write(split.name, k, split.scores[k]); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
