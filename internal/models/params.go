// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params maps hyperparameter names to values.
//
// Values usually come straight from YAML, so accessors accept any of the
// scalar types yaml.v3 produces (int, float64, string, bool) and coerce
// where the conversion is lossless.
type Params map[string]any

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders params as "k=v, k=v" in key order.
func (p Params) String() string {
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, ", ")
}

// CheckKnown returns an error naming the first key not in allowed.
func (p Params) CheckKnown(allowed ...string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, k := range p.Keys() {
		if _, ok := set[k]; !ok {
			return fmt.Errorf("unknown parameter %q (allowed: %s)", k, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// Int returns an integer parameter or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("parameter %q: %v is not an integer", key, t)
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %q: unsupported type %T", key, v)
	}
}

// Float returns a float parameter or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("parameter %q: unsupported type %T", key, v)
	}
}

// Str returns a string parameter or def when absent.
func (p Params) Str(key string, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Bool returns a boolean parameter or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("parameter %q: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("parameter %q: unsupported type %T", key, v)
	}
}

// MaxFeatures describes how many features a tree considers at each split.
//
// The encoded form is one of "all", "sqrt", "log2", a positive integer count
// or a fraction in (0, 1].
type MaxFeatures string

// Resolve returns the number of features to sample out of total.
func (m MaxFeatures) Resolve(total int) (int, error) {
	s := strings.TrimSpace(string(m))
	var k int
	switch s {
	case "", "all", "none":
		k = total
	case "sqrt", "auto":
		k = int(math.Sqrt(float64(total)))
	case "log2":
		k = int(math.Log2(float64(total)))
	default:
		if strings.Contains(s, ".") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || f <= 0 || f > 1 {
				return 0, fmt.Errorf("max_features %q: fraction must be in (0, 1]", s)
			}
			k = int(f * float64(total))
		} else {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("max_features %q: want all, sqrt, log2, a count or a fraction", s)
			}
			k = n
		}
	}
	if k < 1 {
		k = 1
	}
	if k > total {
		k = total
	}
	return k, nil
}

// maxFeaturesParam reads max_features accepting numbers as well as names.
func maxFeaturesParam(p Params, def MaxFeatures) (MaxFeatures, error) {
	v, ok := p["max_features"]
	if !ok || v == nil {
		return def, nil
	}
	var m MaxFeatures
	switch t := v.(type) {
	case string:
		m = MaxFeatures(t)
	case int:
		m = MaxFeatures(strconv.Itoa(t))
	case float64:
		if t == math.Trunc(t) && t > 1 {
			m = MaxFeatures(strconv.Itoa(int(t)))
		} else {
			m = MaxFeatures(strconv.FormatFloat(t, 'f', -1, 64))
			if !strings.Contains(string(m), ".") {
				m += ".0"
			}
		}
	default:
		return "", fmt.Errorf("parameter %q: unsupported type %T", "max_features", v)
	}
	// Validate eagerly against a nominal width so bad values fail at construction.
	if _, err := m.Resolve(16); err != nil {
		return "", err
	}
	return m, nil
}
