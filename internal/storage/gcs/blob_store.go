// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes raw page snapshots to a configured GCS bucket. Snapshot
// paths embed a content hash, so writes are idempotent: re-uploading an
// object that already exists is treated as success.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject uploads a snapshot to the configured bucket and returns a gs://
// URI. Objects are written with a does-not-exist precondition; a precondition
// failure means an identical snapshot is already stored and is not an error.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	obj := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	// Snapshots are single HTML pages, far below the default 16MB upload
	// buffer. A zero chunk size uploads in one request without buffering.
	writer.ChunkSize = 0
	if contentType != "" {
		writer.ContentType = contentType
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, path)
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil && !alreadyStored(closeErr) {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		if alreadyStored(err) {
			return uri, nil
		}
		return "", fmt.Errorf("close writer: %w", err)
	}
	return uri, nil
}

// alreadyStored reports whether an upload failed only because the
// content-addressed object already exists.
func alreadyStored(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
