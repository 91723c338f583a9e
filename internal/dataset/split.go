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
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// SplitConfig controls the train/validation/test partitioning.
type SplitConfig struct {
	Train      float64
	Validation float64
	Test       float64

	// Seed makes the split reproducible.
	Seed int64

	// Stratify keeps class proportions equal across partitions.
	Stratify bool
}

// DefaultSplitConfig is a stratified 60/20/20 split.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		Train:      0.6,
		Validation: 0.2,
		Test:       0.2,
		Seed:       12345,
		Stratify:   true,
	}
}

// Validate checks that fractions are in range and sum to one.
func (c SplitConfig) Validate() error {
	for name, f := range map[string]float64{"train": c.Train, "validation": c.Validation, "test": c.Test} {
		if f < 0 || f > 1 || math.IsNaN(f) {
			return fmt.Errorf("%s fraction %v outside [0, 1]", name, f)
		}
	}
	if c.Train == 0 {
		return errors.New("train fraction must be positive")
	}
	if sum := c.Train + c.Validation + c.Test; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("split fractions sum to %v, want 1", sum)
	}
	return nil
}

// Partitions holds the three disjoint subsets of a dataset.
type Partitions struct {
	Train      *Dataset
	Validation *Dataset
	Test       *Dataset
}

// Split partitions d into train, validation and test sets.
//
// Each stratum (a class, or the whole set when not stratifying) is shuffled
// and cut by rounding its size times the test and validation fractions; the
// remainder goes to train. Partition row order is shuffled afterwards so
// classes are interleaved.
func Split(d *Dataset, cfg SplitConfig) (*Partitions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := d.Rows()
	if n == 0 {
		return nil, ErrNoRows
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	var strata [][]int
	if cfg.Stratify && d.HasLabels() {
		strata = make([][]int, len(d.Classes))
		for i, v := range d.Y {
			strata[v] = append(strata[v], i)
		}
	} else {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		strata = [][]int{all}
	}

	var train, val, test []int
	for _, stratum := range strata {
		idx := append([]int(nil), stratum...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		size := len(idx)
		nTest := int(math.Round(float64(size) * cfg.Test))
		nVal := int(math.Round(float64(size) * cfg.Validation))
		if nTest+nVal > size {
			nVal = size - nTest
		}
		test = append(test, idx[:nTest]...)
		val = append(val, idx[nTest:nTest+nVal]...)
		train = append(train, idx[nTest+nVal:]...)
	}

	for _, part := range [][]int{train, val, test} {
		rng.Shuffle(len(part), func(i, j int) { part[i], part[j] = part[j], part[i] })
	}

	if len(train) == 0 {
		return nil, fmt.Errorf("train partition is empty for %d rows", n)
	}
	if cfg.Validation > 0 && len(val) == 0 {
		return nil, fmt.Errorf("validation partition is empty for %d rows", n)
	}
	if cfg.Test > 0 && len(test) == 0 {
		return nil, fmt.Errorf("test partition is empty for %d rows", n)
	}

	return &Partitions{
		Train:      d.Subset(train),
		Validation: d.Subset(val),
		Test:       d.Subset(test),
	}, nil
}

// Fold is one cross-validation round: row indices to fit on and to score on.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold deals the rows of each class round-robin into k folds.
//
// Every row lands in exactly one test fold and fold sizes differ by at most
// one. Index lists are returned in ascending order.
func StratifiedKFold(y []int, k int, seed int64) ([]Fold, error) {
	n := len(y)
	if k < 2 {
		return nil, fmt.Errorf("k-fold needs k >= 2, got %d", k)
	}
	if k > n {
		return nil, fmt.Errorf("cannot make %d folds from %d rows", k, n)
	}

	byClass := make(map[int][]int)
	for i, v := range y {
		byClass[v] = append(byClass[v], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	assign := make([]int, n)
	pos := 0
	for _, c := range classes {
		members := byClass[c]
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		for _, row := range members {
			assign[row] = pos % k
			pos++
		}
	}

	folds := make([]Fold, k)
	for row, f := range assign {
		for g := range folds {
			if g == f {
				folds[g].Test = append(folds[g].Test, row)
			} else {
				folds[g].Train = append(folds[g].Train, row)
			}
		}
	}
	return folds, nil
}
