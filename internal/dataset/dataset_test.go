// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const usageCSV = `calls,minutes,messages,mb_used,is_ultra
40.0,311.9,83.0,19915.42,0
85.0,516.75,56.0,22696.96,0
77.0,467.66,86.0,21060.45,0
106.0,745.53,81.0,8437.39,1
66.0,418.74,1.0,14502.75,0
58.0,344.56,21.0,15823.37,0
57.0,431.64,20.0,3738.9,1
15.0,132.4,6.0,21911.6,0
7.0,43.39,3.0,2538.67,1
90.0,665.41,38.0,17358.61,0
`

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// syntheticDataset builds n rows with a class pattern of 0,0,1 repeating.
func syntheticDataset(t *testing.T, n int) *Dataset {
	t.Helper()
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i))
		x.Set(i, 1, float64(i%7))
		if i%3 == 2 {
			y[i] = 1
		}
	}
	d, err := New([]string{"a", "b"}, "label", []string{"0", "1"}, x, y)
	require.NoError(t, err)
	return d
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_NumericLabel(t *testing.T) {
	d, err := Load(writeCSV(t, usageCSV), LoadOptions{Label: "is_ultra", RequireLabel: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"calls", "minutes", "messages", "mb_used"}, d.Features)
	assert.Equal(t, "is_ultra", d.Label)
	assert.Equal(t, []string{"0", "1"}, d.Classes)
	assert.Equal(t, 10, d.Rows())
	assert.Equal(t, []int{0, 0, 0, 1, 0, 0, 1, 0, 1, 0}, d.Y)
	assert.InDelta(t, 311.9, d.X.At(0, 1), 1e-9)
	assert.InDelta(t, 2538.67, d.X.At(8, 3), 1e-9)
	assert.Equal(t, []int{7, 3}, d.ClassCounts())
}

func TestLoad_DefaultsToLastColumn(t *testing.T) {
	d, err := Load(writeCSV(t, usageCSV), LoadOptions{RequireLabel: true})
	require.NoError(t, err)
	assert.Equal(t, "is_ultra", d.Label)
	assert.Len(t, d.Features, 4)
}

func TestLoad_SelectedFeatures(t *testing.T) {
	d, err := Load(writeCSV(t, usageCSV), LoadOptions{
		Label:        "is_ultra",
		Features:     []string{"mb_used", "calls"},
		RequireLabel: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mb_used", "calls"}, d.Features)
	assert.InDelta(t, 40.0, d.X.At(0, 1), 1e-9)
}

func TestLoad_CategoricalLabel(t *testing.T) {
	csv := "calls,minutes,plan\n" +
		"10,100,smart\n" +
		"90,700,ultra\n" +
		"20,150,smart\n" +
		"80,650,ultra\n"
	d, err := Load(writeCSV(t, csv), LoadOptions{Label: "plan", RequireLabel: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"smart", "ultra"}, d.Classes)
	assert.Equal(t, []int{0, 1, 0, 1}, d.Y)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing label required", func(t *testing.T) {
		_, err := Load(writeCSV(t, usageCSV), LoadOptions{Label: "tariff", RequireLabel: true})
		assert.ErrorIs(t, err, ErrLabelMissing)
	})

	t.Run("missing label allowed", func(t *testing.T) {
		d, err := Load(writeCSV(t, usageCSV), LoadOptions{
			Label:    "tariff",
			Features: []string{"calls", "minutes"},
		})
		require.NoError(t, err)
		assert.False(t, d.HasLabels())
		assert.Equal(t, 10, d.Rows())
	})

	t.Run("unknown feature", func(t *testing.T) {
		_, err := Load(writeCSV(t, usageCSV), LoadOptions{Label: "is_ultra", Features: []string{"sms"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"sms"`)
	})

	t.Run("non numeric feature", func(t *testing.T) {
		csv := "city,calls,is_ultra\nMoscow,10,0\nKazan,20,1\nOmsk,30,0\n"
		_, err := Load(writeCSV(t, csv), LoadOptions{Label: "is_ultra", RequireLabel: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not numeric")
	})

	t.Run("single class", func(t *testing.T) {
		csv := "calls,is_ultra\n10,1\n20,1\n30,1\n"
		_, err := Load(writeCSV(t, csv), LoadOptions{Label: "is_ultra", RequireLabel: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 2")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.csv"), LoadOptions{})
		assert.Error(t, err)
	})
}

func TestNew_ShapeChecks(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	_, err := New([]string{"a"}, "y", []string{"0", "1"}, x, []int{0, 1})
	assert.Error(t, err)

	_, err = New([]string{"a", "b"}, "y", []string{"0", "1"}, x, []int{0})
	assert.Error(t, err)

	_, err = New([]string{"a", "b"}, "y", []string{"0", "1"}, x, []int{0, 2})
	assert.Error(t, err)

	_, err = New([]string{"a", "b"}, "y", nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestSubset(t *testing.T) {
	d := syntheticDataset(t, 9)
	sub := d.Subset([]int{8, 0})

	assert.Equal(t, 2, sub.Rows())
	assert.Equal(t, []int{1, 0}, sub.Y)
	assert.Equal(t, 8.0, sub.X.At(0, 0))

	empty := d.Subset(nil)
	assert.Equal(t, 0, empty.Rows())
	assert.Nil(t, empty.X)
}

// =============================================================================
// Split Tests
// =============================================================================

func TestSplitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SplitConfig
		wantErr string
	}{
		{"default", DefaultSplitConfig(), ""},
		{"no validation", SplitConfig{Train: 0.75, Test: 0.25}, ""},
		{"sum too small", SplitConfig{Train: 0.5, Test: 0.2}, "sum to"},
		{"negative", SplitConfig{Train: 1.2, Test: -0.2}, "outside"},
		{"no train", SplitConfig{Validation: 0.5, Test: 0.5}, "train fraction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSplit_SizesAndDisjoint(t *testing.T) {
	d := syntheticDataset(t, 300)
	parts, err := Split(d, DefaultSplitConfig())
	require.NoError(t, err)

	assert.Equal(t, 180, parts.Train.Rows())
	assert.Equal(t, 60, parts.Validation.Rows())
	assert.Equal(t, 60, parts.Test.Rows())

	// Feature column 0 holds the original row index, so it identifies rows.
	seen := make(map[float64]bool)
	for _, p := range []*Dataset{parts.Train, parts.Validation, parts.Test} {
		for i := 0; i < p.Rows(); i++ {
			id := p.X.At(i, 0)
			assert.False(t, seen[id], "row %v appears twice", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 300)
}

func TestSplit_Stratified(t *testing.T) {
	d := syntheticDataset(t, 300) // 200 zeros, 100 ones
	parts, err := Split(d, DefaultSplitConfig())
	require.NoError(t, err)

	assert.Equal(t, []int{120, 60}, parts.Train.ClassCounts())
	assert.Equal(t, []int{40, 20}, parts.Validation.ClassCounts())
	assert.Equal(t, []int{40, 20}, parts.Test.ClassCounts())
}

func TestSplit_Deterministic(t *testing.T) {
	d := syntheticDataset(t, 120)
	a, err := Split(d, DefaultSplitConfig())
	require.NoError(t, err)
	b, err := Split(d, DefaultSplitConfig())
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.Test.X, b.Test.X))

	cfg := DefaultSplitConfig()
	cfg.Seed = 7
	c, err := Split(d, cfg)
	require.NoError(t, err)
	assert.False(t, mat.Equal(a.Test.X, c.Test.X))
}

func TestSplit_EmptyPartition(t *testing.T) {
	d := syntheticDataset(t, 2)
	_, err := Split(d, SplitConfig{Train: 0.8, Validation: 0.1, Test: 0.1, Stratify: false})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestSplit_NoValidation(t *testing.T) {
	d := syntheticDataset(t, 40)
	parts, err := Split(d, SplitConfig{Train: 0.75, Test: 0.25, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, parts.Validation.Rows())
	assert.Equal(t, 30, parts.Train.Rows())
}

// =============================================================================
// K-Fold Tests
// =============================================================================

func TestStratifiedKFold(t *testing.T) {
	y := make([]int, 50)
	for i := range y {
		if i%5 == 0 {
			y[i] = 1
		}
	}

	folds, err := StratifiedKFold(y, 5, 42)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	var allTest []int
	for _, f := range folds {
		assert.Len(t, f.Test, 10)
		assert.Len(t, f.Train, 40)
		assert.True(t, sort.IntsAreSorted(f.Test))

		ones := 0
		for _, r := range f.Test {
			ones += y[r]
		}
		assert.Equal(t, 2, ones, "each fold keeps the 1:4 class ratio")
		allTest = append(allTest, f.Test...)
	}
	sort.Ints(allTest)
	for i, r := range allTest {
		assert.Equal(t, i, r)
	}
}

func TestStratifiedKFold_Errors(t *testing.T) {
	_, err := StratifiedKFold([]int{0, 1, 0}, 1, 0)
	assert.Error(t, err)
	_, err = StratifiedKFold([]int{0, 1, 0}, 4, 0)
	assert.Error(t, err)
}

// =============================================================================
// Describe Tests
// =============================================================================

func TestDescribe(t *testing.T) {
	d, err := Load(writeCSV(t, usageCSV), LoadOptions{Label: "is_ultra", RequireLabel: true})
	require.NoError(t, err)

	s, err := Describe(d)
	require.NoError(t, err)

	assert.Equal(t, 10, s.Rows)
	require.Len(t, s.Features, 4)
	calls := s.Features[0]
	assert.Equal(t, "calls", calls.Name)
	assert.InDelta(t, 60.1, calls.Mean, 1e-9)
	assert.Equal(t, 7.0, calls.Min)
	assert.Equal(t, 106.0, calls.Max)
	assert.Equal(t, []int{7, 3}, s.ClassCounts)

	require.NotNil(t, s.Correlation)
	assert.Equal(t, 5, s.Correlation.SymmetricDim())
	assert.Equal(t, "is_ultra", s.CorrelationLabels[4])
	assert.InDelta(t, 1.0, s.Correlation.At(0, 0), 1e-9)
	// calls and minutes move together in this sample.
	assert.Greater(t, s.Correlation.At(0, 1), 0.9)
}

func ExampleStratifiedKFold() {
	folds, _ := StratifiedKFold([]int{0, 0, 1, 1}, 2, 1)
	for i, f := range folds {
		fmt.Println(i, len(f.Train), len(f.Test), strings.Repeat("*", len(f.Test)))
	}
	// Output:
	// 0 2 2 **
	// 1 2 2 **
}
