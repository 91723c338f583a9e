// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/planfit/internal/models"
	"github.com/AleutianAI/planfit/pkg/validation"
)

const (
	runPrefix   = "run/"
	modelPrefix = "model/"
)

// RunRecord is the persisted summary of one training run.
type RunRecord struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`

	DataPath string   `json:"data_path"`
	Label    string   `json:"label"`
	Features []string `json:"features"`
	Classes  []string `json:"classes"`

	Rows           int `json:"rows"`
	TrainRows      int `json:"train_rows"`
	ValidationRows int `json:"validation_rows"`
	TestRows       int `json:"test_rows"`

	Scoring string `json:"scoring"`
	Folds   int    `json:"folds"`
	Seed    int64  `json:"seed"`

	Winner       string          `json:"winner"`
	SanityPassed bool            `json:"sanity_passed"`
	Models       []ModelRecord   `json:"models"`
	Comparison   []ComparisonRow `json:"comparison,omitempty"`
	Artifacts    []string        `json:"artifacts,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
}

// ModelRecord holds the scores of one model within a run.
type ModelRecord struct {
	Algorithm   string             `json:"algorithm"`
	Params      map[string]string  `json:"params"`
	CVMean      float64            `json:"cv_mean"`
	CVStd       float64            `json:"cv_std"`
	Candidates  []CandidateRecord  `json:"candidates,omitempty"`
	Validation  map[string]float64 `json:"validation,omitempty"`
	Test        map[string]float64 `json:"test"`
	Confusion   [][]int            `json:"confusion"`
	Importances map[string]float64 `json:"importances,omitempty"`
	Baseline    bool               `json:"baseline,omitempty"`
}

// CandidateRecord is one cross-validated grid point.
type CandidateRecord struct {
	Params map[string]string `json:"params"`
	Mean   float64           `json:"mean"`
	Std    float64           `json:"std"`
	Rank   int               `json:"rank"`
}

// ComparisonRow lines up one test row with every model's prediction.
type ComparisonRow struct {
	Row       int               `json:"row"`
	Features  []float64         `json:"features"`
	Actual    string            `json:"actual"`
	Predicted map[string]string `json:"predicted"`
}

// Model returns the record for algorithm.
func (r *RunRecord) Model(algorithm string) (ModelRecord, bool) {
	for _, m := range r.Models {
		if m.Algorithm == algorithm {
			return m, true
		}
	}
	return ModelRecord{}, false
}

func runKey(id string) []byte { return []byte(runPrefix + id) }

func modelKey(runID, algorithm string) []byte {
	return []byte(modelPrefix + runID + "/" + algorithm)
}

// SaveRun writes (or replaces) a run record.
func (s *Store) SaveRun(ctx context.Context, run *RunRecord) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(runKey(run.ID), data)
	})
}

// GetRun reads a run by exact ID.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var run RunRecord
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ResolveID expands a unique run ID prefix to the full ID.
func (s *Store) ResolveID(ctx context.Context, prefix string) (string, error) {
	if err := validation.ValidateRunID(prefix); err != nil {
		return "", err
	}
	var matches []string
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(runPrefix + prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			matches = append(matches, strings.TrimPrefix(string(it.Item().Key()), runPrefix))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if m == prefix {
			return m, nil
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("run %s: %w", prefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("run id %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// ListRuns returns stored runs newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	var runs []*RunRecord
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(runPrefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var run RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteRun removes a run and all of its model bundles, then gives the
// value log a chance to reclaim space.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("run %s: %w", id, ErrNotFound)
			}
			return err
		}

		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		p := []byte(modelPrefix + id + "/")
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(runKey(id))
	})
	if err != nil {
		return err
	}
	if err := s.GC(); err != nil {
		s.logger.Warn("value log gc after delete failed", "error", err)
	}
	return nil
}

// SaveModel stores a fitted model bundle under its run.
func (s *Store) SaveModel(ctx context.Context, runID string, b *models.Bundle) error {
	data, err := b.Encode()
	if err != nil {
		return err
	}
	return s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(modelKey(runID, string(b.Algorithm)), data)
	})
}

// LoadModel reads a model bundle.
func (s *Store) LoadModel(ctx context.Context, runID, algorithm string) (*models.Bundle, error) {
	var data []byte
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(modelKey(runID, algorithm))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("model %s/%s: %w", runID, algorithm, ErrNotFound)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return models.DecodeBundle(data)
}

// ListModels returns the algorithms with a stored bundle for runID, sorted.
func (s *Store) ListModels(ctx context.Context, runID string) ([]string, error) {
	var out []string
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(modelPrefix + runID + "/")
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), string(p)))
		}
		return nil
	})
	return out, err
}
