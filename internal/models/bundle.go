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
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"
)

func init() {
	gob.Register(&Tree{})
	gob.Register(&Forest{})
	gob.Register(&Logistic{})
	gob.Register(&MajorityModel{})
}

// Bundle is a fitted model together with everything needed to score new
// rows: the feature order it was trained on and the class names its indices
// map to.
type Bundle struct {
	Model     Classifier
	Algorithm Algorithm
	Params    map[string]string
	Features  []string
	Label     string
	Classes   []string
	Metrics   map[string]float64
	CreatedAt time.Time
}

// NewBundle wraps a fitted model.
func NewBundle(model Classifier, features []string, label string, classes []string) *Bundle {
	params := make(map[string]string)
	for k, v := range model.Params() {
		params[k] = fmt.Sprint(v)
	}
	return &Bundle{
		Model:     model,
		Algorithm: model.Name(),
		Params:    params,
		Features:  append([]string(nil), features...),
		Label:     label,
		Classes:   append([]string(nil), classes...),
		Metrics:   make(map[string]float64),
		CreatedAt: time.Now().UTC(),
	}
}

// Encode serialises the bundle with encoding/gob.
func (b *Bundle) Encode() ([]byte, error) {
	if b.Model == nil {
		return nil, errors.New("bundle has no model")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBundle is the inverse of Bundle.Encode.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Model == nil {
		return nil, errors.New("decode bundle: no model")
	}
	return &b, nil
}

// ClassName maps a predicted index back to its label.
func (b *Bundle) ClassName(idx int) string {
	if idx < 0 || idx >= len(b.Classes) {
		return fmt.Sprintf("class_%d", idx)
	}
	return b.Classes[idx]
}
