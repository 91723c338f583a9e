// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists planfit runs and exports their results.
//
// Runs and fitted model bundles live in an embedded BadgerDB under
// ~/.planfit/runs. Results can additionally be written to InfluxDB for
// dashboards and run artifacts uploaded to Google Cloud Storage.
//
// Key layout:
//
//	run/<run-id>                  JSON RunRecord
//	model/<run-id>/<algorithm>    gob models.Bundle
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a run or model does not exist.
var ErrNotFound = errors.New("not found")

// Config holds configuration for the run store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Used by tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCDiscardRatio is the minimum garbage ratio before value log GC
	// rewrites a file after a delete.
	GCDiscardRatio float64
}

// DefaultConfig returns a durable on-disk configuration at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, GCDiscardRatio: 0.5}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the BadgerDB-backed run store.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db       *badger.DB
	path     string
	inMemory bool
	gcRatio  float64
	logger   *slog.Logger
}

// Open opens (creating if needed) the run store.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if path is missing or the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		db:       db,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
		gcRatio:  cfg.GCDiscardRatio,
		logger:   logger,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path, or "" for in-memory stores.
func (s *Store) Path() string {
	if s.inMemory {
		return ""
	}
	return s.path
}

// GC runs one pass of value log garbage collection. Having nothing to
// rewrite is not an error.
func (s *Store) GC() error {
	if s.inMemory || s.gcRatio <= 0 {
		return nil
	}
	err := s.db.RunValueLogGC(s.gcRatio)
	if err == nil {
		s.logger.Debug("badger value log GC completed")
		return nil
	}
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return fmt.Errorf("value log gc: %w", err)
}

// withTxn executes fn in a read-write transaction and commits when it
// returns nil.
func (s *Store) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// withReadTxn executes fn in a read-only transaction.
func (s *Store) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}
