// Package blob opens the document store used for filing documents. It is
// the only package that imports the concrete backends.
package blob

import "entityfiler/internal/blob/core"

type (
	// Store is a write-once document store.
	Store = core.Store
	// Info is a document's metadata.
	Info = core.Info
	// PutOptions describes a write.
	PutOptions = core.PutOptions
	// Driver names a backend.
	Driver = core.Driver
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)
