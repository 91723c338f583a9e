// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-supplied identifiers before they are used
// in storage keys, object paths, or Flux queries.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// runIDPattern matches run IDs and their prefixes: lowercase alphanumerics
// and hyphens, up to the 36 characters of a UUID.
var runIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,35}$`)

// columnPattern matches CSV column names usable as labels and tag values.
var columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]{0,63}$`)

// ValidateRunID rejects run IDs that could escape a key prefix or an
// object path.
//
// Example:
//
//	if err := validation.ValidateRunID(id); err != nil {
//	    return "", fmt.Errorf("invalid run id: %w", err)
//	}
func ValidateRunID(id string) error {
	if id == "" {
		return errors.New("run id cannot be empty")
	}
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run id %q (must be 1-36 lowercase alphanumeric chars or hyphens)", id)
	}
	return nil
}

// SanitizeRunID trims and lowercases id, then validates it.
func SanitizeRunID(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if err := ValidateRunID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateColumn checks a CSV column name.
func ValidateColumn(name string) error {
	if !columnPattern.MatchString(name) {
		return fmt.Errorf("invalid column name %q", name)
	}
	return nil
}

// ValidateColumns returns an error listing every invalid column name.
func ValidateColumns(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateColumn(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid column names: %q", invalid)
	}
	return nil
}
