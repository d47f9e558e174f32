// Package storage implements the Repository collaborator from spec
// section 6: a durable key-value store the Tracker and the Planner
// write declared state and instance state through, assumed linearizable
// for a single writer (spec section 5, "Shared resources").
package storage

import (
	"time"

	"github.com/cuemby/helmsman/pkg/pathid"
)

// Repository is the durable storage collaborator. Entries are opaque
// byte payloads — callers own their own encoding (see codec.go for the
// JSON convenience wrappers the rest of the core uses).
type Repository interface {
	// Get returns the entry at id, or ok == false if absent.
	Get(id pathid.Path) (data []byte, ok bool, err error)

	// Put upserts the entry at id and appends a version timestamp.
	Put(id pathid.Path, data []byte) error

	// Delete removes the entry at id; it does not remove its version
	// history, matching the "minimum required for idempotent recovery"
	// non-goal (spec section 1).
	Delete(id pathid.Path) error

	// Versions returns the timestamps of every Put recorded for id,
	// oldest first.
	Versions(id pathid.Path) ([]time.Time, error)

	// List returns every stored id equal to prefix or nested under it,
	// sorted. The Tracker calls it with the root path to reload every
	// persisted instance on startup.
	List(prefix pathid.Path) ([]pathid.Path, error)

	// Root returns the serialized root group tree, or ok == false if
	// none has ever been saved.
	Root() (data []byte, ok bool, err error)

	// PutRoot replaces the serialized root group tree.
	PutRoot(data []byte) error

	Close() error
}
