// Package store defines the persistence interface for the vault's indexed
// history. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
//
// The store is an index, not the ledger: the vault's accounting state lives
// in memory and is never read back from here.
package store

import (
	"context"
	"errors"

	"github.com/atmx/safelend-vault/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Immutable event log ---

	// InsertEvent appends an immutable vault event.
	InsertEvent(ctx context.Context, e *model.Event) error

	// ListEventsByAccount returns events where account was the caller or
	// the liquidated borrower, oldest first.
	ListEventsByAccount(ctx context.Context, account string) ([]model.Event, error)

	// ListRecentEvents returns up to limit events, newest first.
	ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error)

	// --- Position snapshots ---

	// UpsertPosition stores the latest snapshot of a position.
	UpsertPosition(ctx context.Context, vaultID string, p *model.Position) error

	// GetPosition returns the latest snapshot, or ErrNotFound.
	GetPosition(ctx context.Context, vaultID, account string) (*model.Position, error)

	// ListPositions returns every snapshot for a vault, ordered by account.
	ListPositions(ctx context.Context, vaultID string) ([]model.Position, error)

	// --- Liquidation history ---

	// InsertLiquidationRecord appends an agent liquidation record.
	InsertLiquidationRecord(ctx context.Context, r *model.LiquidationRecord) error

	// ListLiquidationRecords returns records for borrower, oldest first.
	ListLiquidationRecords(ctx context.Context, borrower string) ([]model.LiquidationRecord, error)
}
