// Package source defines the document change stream the index consumes and
// an in-memory change log implementing it.
package source

import (
	"context"
	"encoding/json"

	"github.com/hupe1980/jsonindex/event"
)

// Change is one document change read from an area.
type Change struct {
	Area       string
	Kind       event.ChangeKind
	Key        string
	Document   json.RawMessage
	Size       int64
	Generation event.Generation
}

// Handler applies a change. A returned error is reported and the change is
// skipped; the stream continues.
type Handler func(ctx context.Context, c Change) error

// Source is a stream of document changes partitioned into areas, each with
// its own generation counter.
type Source interface {
	// Areas returns the names of all areas.
	Areas() []string
	// Run streams changes to h until ctx is done.
	Run(ctx context.Context, h Handler) error
	// UpdateGeneration moves an area's cursor. Changes with a generation at
	// or below the cursor are not delivered.
	UpdateGeneration(area string, gen int64)
	// Reset rewinds every area so that all changes are delivered again.
	Reset()
}
