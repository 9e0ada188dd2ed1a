// Package core defines the document store contract implemented by the blob
// backends. Filing documents and archived submissions live under keys of
// the form "filings/<identifier>/<filing id>/<name>".
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
)

// Driver names a backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

var (
	// ErrNotFound is wrapped by Get, Head and Delete lookups of missing keys.
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned by Put when the key is already taken.
	ErrExists = errors.New("document already exists")
)

// PutOptions describes a write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info is a document's metadata.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Checksum     string            `json:"checksum,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a write-once document store.
type Store interface {
	Driver() Driver
	// Put fails with ErrExists if key is already stored.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns documents under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
}

// CleanKey validates a key and returns its canonical slash form. Keys are
// relative and may not climb out of the store root.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("empty document key")
	}
	if strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return "", fmt.Errorf("document key %q must be relative", key)
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("document key %q escapes root", key)
		}
	}
	return path.Clean(trimmed), nil
}

// FilingKey is the key of a named document attached to a filing.
func FilingKey(identifier string, filingID int64, name string) string {
	return path.Join("filings", identifier, strconv.FormatInt(filingID, 10), name)
}

// CloneMetadata copies a metadata map.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
