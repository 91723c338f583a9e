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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/planfit/cmd/planfit/config"
	"github.com/AleutianAI/planfit/internal/dataset"
	"github.com/AleutianAI/planfit/internal/report"
	"github.com/AleutianAI/planfit/pkg/ux"
)

func runDescribe(cmd *cobra.Command, args []string) error {
	path := cfg.Data.Path
	if cmd.Flags().Changed("data") {
		path, _ = cmd.Flags().GetString("data")
	}
	label := cfg.Data.Label
	if cmd.Flags().Changed("label") {
		label, _ = cmd.Flags().GetString("label")
	}
	path = config.ExpandHome(path)

	d, err := dataset.Load(path, dataset.LoadOptions{Label: label, Features: cfg.Data.Features})
	if err != nil {
		return err
	}
	s, err := dataset.Describe(d)
	if err != nil {
		return err
	}
	logger.Debug("described dataset", "path", path, "rows", s.Rows, "features", len(s.Features))

	out := ux.Stdout()
	ux.Title("Dataset: " + path)
	ux.KeyValue("rows", s.Rows)
	ux.KeyValue("features", len(s.Features))

	ux.Title("Features")
	fmt.Fprint(out, report.FeatureStatsTable(s))

	if d.HasLabels() {
		ux.Title("Class balance: " + d.Label)
		fmt.Fprint(out, report.ClassBalanceTable(s))
	} else {
		ux.Warning(fmt.Sprintf("label column %q not found; class balance skipped", label))
	}

	if corr := report.CorrelationTable(s); corr != "" {
		ux.Title("Correlation")
		fmt.Fprint(out, corr)
	}
	return nil
}
