// Package store persists finished event records together with their
// routing decision. The SQLite implementation is the default; DryRunStore
// records what would have been written for preview runs.
package store

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/route"
)

// Store accepts the pipeline's output. Implementations must tolerate
// concurrent Save calls from independent pipeline runs.
type Store interface {
	Save(ctx context.Context, records []event.EventRecord, decision route.Decision) error
	Close() error
}

// Config selects and tunes the persistence backend. DryRun is an explicit
// configuration choice handed to the store, not process-wide state.
type Config struct {
	Driver string `koanf:"driver"` // "sqlite" or "dryrun"
	DSN    string `koanf:"dsn"`
	DryRun bool   `koanf:"dry_run"`
}

// SavedBatch is one dry-run Save call.
type SavedBatch struct {
	Records  []event.EventRecord
	Decision route.Decision
}

// DryRunStore keeps every batch in memory instead of persisting it.
type DryRunStore struct {
	mu      sync.Mutex
	batches []SavedBatch
}

func NewDryRunStore() *DryRunStore {
	return &DryRunStore{}
}

func (d *DryRunStore) Save(_ context.Context, records []event.EventRecord, decision route.Decision) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, SavedBatch{Records: records, Decision: decision})
	return nil
}

func (d *DryRunStore) Close() error { return nil }

// Batches returns a copy of everything saved so far.
func (d *DryRunStore) Batches() []SavedBatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SavedBatch, len(d.batches))
	copy(out, d.batches)
	return out
}

var _ Store = (*DryRunStore)(nil)
