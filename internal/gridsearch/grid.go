// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gridsearch

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/planfit/internal/models"
)

// Grid maps a hyperparameter name to the values to try.
type Grid map[string][]any

// Keys returns the parameter names in sorted order.
func (g Grid) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the number of candidates Expand will produce.
func (g Grid) Size() int {
	n := 1
	for _, v := range g {
		n *= len(v)
	}
	return n
}

// Expand returns the cartesian product of the grid.
//
// Keys are iterated in sorted order and the last key varies fastest, so the
// candidate order is stable across runs. An empty grid yields a single
// candidate with no parameters (the model defaults).
func (g Grid) Expand() ([]models.Params, error) {
	keys := g.Keys()
	for _, k := range keys {
		if len(g[k]) == 0 {
			return nil, fmt.Errorf("grid parameter %q has no values", k)
		}
	}

	out := []models.Params{{}}
	for _, k := range keys {
		next := make([]models.Params, 0, len(out)*len(g[k]))
		for _, base := range out {
			for _, v := range g[k] {
				p := base.Clone()
				p[k] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out, nil
}

// Numeric reports whether every value of key is a number, which makes the
// parameter plottable on an axis.
func (g Grid) Numeric(key string) bool {
	vals, ok := g[key]
	if !ok || len(vals) == 0 {
		return false
	}
	for _, v := range vals {
		if _, ok := toFloat(v); !ok {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
