// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/AleutianAI/planfit/internal/store"
)

const (
	chartWidth  = 9 * vg.Inch
	chartHeight = 4.5 * vg.Inch
	barWidth    = vg.Points(14)
)

// PlotMetrics draws one group of bars per test metric with one bar per
// model.
func PlotMetrics(run *store.RunRecord, path string) error {
	if len(run.Models) == 0 {
		return errors.New("no models to plot")
	}
	names := MetricNames[:4]

	p := plot.New()
	p.Title.Text = "Test metrics by model"
	p.Y.Label.Text = "score"
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = true

	n := len(run.Models)
	for i, m := range run.Models {
		vals := make(plotter.Values, len(names))
		for j, k := range names {
			vals[j] = m.Test[k]
		}
		bars, err := plotter.NewBarChart(vals, barWidth)
		if err != nil {
			return fmt.Errorf("bar chart %s: %w", m.Algorithm, err)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = barOffset(i, n)
		p.Add(bars)
		p.Legend.Add(m.Algorithm, bars)
	}
	p.NominalX(names...)
	return save(p, path)
}

// PlotClassDistribution compares the actual test class counts with the
// counts each model predicted, read off the confusion matrices.
func PlotClassDistribution(run *store.RunRecord, path string) error {
	if len(run.Models) == 0 || len(run.Classes) == 0 {
		return errors.New("no models to plot")
	}

	p := plot.New()
	p.Title.Text = "Predicted vs actual class distribution (test)"
	p.Y.Label.Text = "rows"
	p.Legend.Top = true

	series := []struct {
		name   string
		counts plotter.Values
	}{{"actual", actualCounts(run.Models[0].Confusion, len(run.Classes))}}
	for _, m := range run.Models {
		series = append(series, struct {
			name   string
			counts plotter.Values
		}{m.Algorithm, predictedCounts(m.Confusion, len(run.Classes))})
	}

	for i, s := range series {
		bars, err := plotter.NewBarChart(s.counts, barWidth)
		if err != nil {
			return fmt.Errorf("bar chart %s: %w", s.name, err)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = barOffset(i, len(series))
		p.Add(bars)
		p.Legend.Add(s.name, bars)
	}
	p.NominalX(run.Classes...)
	return save(p, path)
}

func actualCounts(confusion [][]int, k int) plotter.Values {
	out := make(plotter.Values, k)
	for a, row := range confusion {
		for _, c := range row {
			if a < k {
				out[a] += float64(c)
			}
		}
	}
	return out
}

func predictedCounts(confusion [][]int, k int) plotter.Values {
	out := make(plotter.Values, k)
	for _, row := range confusion {
		for p, c := range row {
			if p < k {
				out[p] += float64(c)
			}
		}
	}
	return out
}

// CurvePoints returns, for each numeric value of param, the best mean CV
// score among candidates with that value, sorted by value. Candidates with
// a non-numeric or missing value are skipped.
func CurvePoints(m store.ModelRecord, param string) plotter.XYs {
	best := map[float64]float64{}
	for _, c := range m.Candidates {
		raw, ok := c.Params[param]
		if !ok {
			continue
		}
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if cur, seen := best[x]; !seen || c.Mean > cur {
			best[x] = c.Mean
		}
	}
	xs := make([]float64, 0, len(best))
	for x := range best {
		xs = append(xs, x)
	}
	sort.Float64s(xs)
	pts := make(plotter.XYs, len(xs))
	for i, x := range xs {
		pts[i].X = x
		pts[i].Y = best[x]
	}
	return pts
}

// PlotParamCurve draws the best CV score against one numeric
// hyperparameter, e.g. tree depth or forest size.
func PlotParamCurve(m store.ModelRecord, param, scoring, path string) error {
	pts := CurvePoints(m, param)
	if len(pts) < 2 {
		return fmt.Errorf("parameter %q of %s has fewer than two numeric values", param, m.Algorithm)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: cross-validated %s by %s", m.Algorithm, scoring, param)
	p.X.Label.Text = param
	p.Y.Label.Text = "mean cv " + scoring

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("line %s: %w", param, err)
	}
	line.Color = plotutil.Color(0)
	points.GlyphStyle.Color = plotutil.Color(0)
	points.GlyphStyle.Shape = plotutil.Shape(0)
	p.Add(line, points, plotter.NewGrid())
	return save(p, path)
}

// PlotRun writes every chart for run into dir and returns the file paths.
// curveParams maps an algorithm to the parameter to sweep; a missing or
// unplottable entry just skips that curve.
func PlotRun(run *store.RunRecord, dir string, curveParams map[string]string) ([]string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	var files []string
	metricsPath := filepath.Join(dir, "metrics.png")
	if err := PlotMetrics(run, metricsPath); err != nil {
		return files, err
	}
	files = append(files, metricsPath)

	distPath := filepath.Join(dir, "class_distribution.png")
	if err := PlotClassDistribution(run, distPath); err != nil {
		return files, err
	}
	files = append(files, distPath)

	for _, m := range run.Models {
		param, ok := curveParams[m.Algorithm]
		if !ok || len(CurvePoints(m, param)) < 2 {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("curve_%s_%s.png", m.Algorithm, param))
		if err := PlotParamCurve(m, param, run.Scoring, path); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

func barOffset(i, n int) vg.Length {
	return vg.Length(float64(i)-float64(n-1)/2) * barWidth
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
