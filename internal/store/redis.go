package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/safelend-vault/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.InsertEvent(ctx, e); err != nil {
		return err
	}
	keys := []string{eventsKey(e.Account)}
	if e.Borrower != "" {
		keys = append(keys, eventsKey(e.Borrower))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, vaultID string, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, vaultID, p); err != nil {
		return err
	}
	s.cache(ctx, positionKey(vaultID, p.Account), p)
	return nil
}

func (s *CachedStore) InsertLiquidationRecord(ctx context.Context, r *model.LiquidationRecord) error {
	if err := s.primary.InsertLiquidationRecord(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, liquidationsKey(r.Borrower))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, vaultID, account string) (*model.Position, error) {
	key := positionKey(vaultID, account)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPosition(ctx, vaultID, account)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, key, p)
	return p, nil
}

func (s *CachedStore) ListEventsByAccount(ctx context.Context, account string) ([]model.Event, error) {
	key := eventsKey(account)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.ListEventsByAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, key, events)
	return events, nil
}

func (s *CachedStore) ListLiquidationRecords(ctx context.Context, borrower string) ([]model.LiquidationRecord, error) {
	key := liquidationsKey(borrower)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []model.LiquidationRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.primary.ListLiquidationRecords(ctx, borrower)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, key, records)
	return records, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	return s.primary.ListRecentEvents(ctx, limit)
}

func (s *CachedStore) ListPositions(ctx context.Context, vaultID string) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, vaultID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func positionKey(vaultID, account string) string { return fmt.Sprintf("position:%s:%s", vaultID, account) }
func eventsKey(account string) string            { return fmt.Sprintf("events:%s", account) }
func liquidationsKey(borrower string) string     { return fmt.Sprintf("liquidations:%s", borrower) }
