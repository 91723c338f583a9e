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
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/planfit/cmd/planfit/config"
	"github.com/AleutianAI/planfit/internal/dataset"
	"github.com/AleutianAI/planfit/internal/metrics"
	"github.com/AleutianAI/planfit/internal/models"
	"github.com/AleutianAI/planfit/pkg/ux"
)

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID, _ := cmd.Flags().GetString("run")
	algorithm, _ := cmd.Flags().GetString("model")
	dataPath, _ := cmd.Flags().GetString("data")
	output, _ := cmd.Flags().GetString("output")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := resolveRun(ctx, st, runID)
	if err != nil {
		return err
	}
	if algorithm == "" {
		algorithm = run.Winner
	}
	bundle, err := st.LoadModel(ctx, run.ID, algorithm)
	if err != nil {
		return fmt.Errorf("load model %s of run %s: %w", algorithm, run.ID, err)
	}

	d, err := dataset.Load(config.ExpandHome(dataPath), dataset.LoadOptions{
		Label:    bundle.Label,
		Features: bundle.Features,
	})
	if err != nil {
		return err
	}

	proba, err := bundle.Model.PredictProba(d.X)
	if err != nil {
		return err
	}
	pred, err := bundle.Model.Predict(d.X)
	if err != nil {
		return err
	}
	logger.Info("scored dataset", "run_id", run.ID, "algorithm", algorithm, "rows", d.Rows())

	w := ux.Stdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := writePredictions(w, d, bundle, pred, proba); err != nil {
		return err
	}

	if d.HasLabels() {
		if rep, ok := labelledAccuracy(d, bundle, pred); ok {
			ux.KeyValue("accuracy", fmt.Sprintf("%.3f", rep.Accuracy))
		}
	}
	if output != "" {
		ux.Success(fmt.Sprintf("Wrote %d predictions to %s", d.Rows(), output))
	}
	return nil
}

// writePredictions writes the feature columns followed by the predicted
// class and one probability column per class.
func writePredictions(w io.Writer, d *dataset.Dataset, b *models.Bundle, pred []int, proba *mat.Dense) error {
	cw := csv.NewWriter(w)
	header := append([]string(nil), d.Features...)
	header = append(header, "predicted_"+b.Label)
	for _, c := range b.Classes {
		header = append(header, "proba_"+c)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, p := range pred {
		row := make([]string, 0, len(header))
		for j := range d.Features {
			row = append(row, strconv.FormatFloat(d.X.At(i, j), 'g', -1, 64))
		}
		row = append(row, b.ClassName(p))
		for k := range b.Classes {
			row = append(row, strconv.FormatFloat(proba.At(i, k), 'f', 4, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// labelledAccuracy scores predictions when the file carries the label.
// The file's classes are mapped onto the model's by name; rows with a class
// the model never saw are skipped.
func labelledAccuracy(d *dataset.Dataset, b *models.Bundle, pred []int) (*metrics.Report, bool) {
	index := make(map[string]int, len(b.Classes))
	for i, c := range b.Classes {
		index[c] = i
	}
	var yTrue, yPred []int
	for i, y := range d.Y {
		k, ok := index[d.Classes[y]]
		if !ok {
			continue
		}
		yTrue = append(yTrue, k)
		yPred = append(yPred, pred[i])
	}
	rep, err := metrics.Evaluate(yTrue, yPred, b.Classes)
	if err != nil {
		return nil, false
	}
	return rep, true
}
