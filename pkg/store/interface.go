// Package store defines the persistence contract for bans and the moderation
// log, with an in-memory implementation for tests.
package store

import (
	"context"

	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/model"
)

// DataStore is everything the server persists. Implementations include the
// SQLite provider in pkg/datastore and MemoryStore.
type DataStore interface {
	ledger.Store

	// LogAction appends an entry to the moderation log.
	LogAction(ctx context.Context, action model.Action) error

	// ListActions returns log entries, newest first.
	ListActions(ctx context.Context, filters model.ActionFilters) ([]model.Action, error)

	// Close releases the underlying storage.
	Close() error
}
