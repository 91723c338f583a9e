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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/planfit/pkg/validation"
)

// GCSConfig names the bucket that receives run artifacts.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// GCSUploader copies run artifacts to Google Cloud Storage.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger

	// open returns a writer for an object in the bucket.
	open func(ctx context.Context, object string) io.WriteCloser
}

// NewGCSUploader creates a storage client. With no credentials file the
// client falls back to application default credentials.
func NewGCSUploader(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	u := &GCSUploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}
	u.open = func(ctx context.Context, object string) io.WriteCloser {
		w := client.Bucket(cfg.Bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType(object)
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}
	return u, nil
}

// ObjectName returns the object path for a run artifact.
func (u *GCSUploader) ObjectName(runID, localPath string) string {
	return path.Join(u.prefix, runID, filepath.Base(localPath))
}

// UploadFile copies one local file to object.
func (u *GCSUploader) UploadFile(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer f.Close()

	w := u.open(ctx, object)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	u.logger.Info("uploaded artifact", "file", localPath, "object", "gs://"+u.bucket+"/"+object)
	return nil
}

// UploadRun uploads every file under prefix/runID/ and returns the gs:// URIs.
func (u *GCSUploader) UploadRun(ctx context.Context, runID string, files []string) ([]string, error) {
	if err := validation.ValidateRunID(runID); err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(files))
	for _, f := range files {
		object := u.ObjectName(runID, f)
		if err := u.UploadFile(ctx, f, object); err != nil {
			return uris, err
		}
		uris = append(uris, "gs://"+u.bucket+"/"+object)
	}
	return uris, nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
