package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/safelend-vault/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	events       []model.Event
	positions    map[string]map[string]model.Position // vault → account → snapshot
	liquidations []model.LiquidationRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]map[string]model.Position),
	}
}

func (s *MemoryStore) InsertEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.events {
		if existing.ID == e.ID {
			return fmt.Errorf("event %s already exists", e.ID)
		}
	}
	s.events = append(s.events, cloneEvent(*e))
	return nil
}

func (s *MemoryStore) ListEventsByAccount(_ context.Context, account string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if e.Account == account || e.Borrower == account {
			result = append(result, cloneEvent(e))
		}
	}
	return result, nil
}

func (s *MemoryStore) ListRecentEvents(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Event, 0, min(limit, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, cloneEvent(s.events[i]))
	}
	return result, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, vaultID string, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAccount, ok := s.positions[vaultID]
	if !ok {
		byAccount = make(map[string]model.Position)
		s.positions[vaultID] = byAccount
	}
	byAccount[p.Account] = p.Clone()
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, vaultID, account string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[vaultID][account]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", vaultID, account, ErrNotFound)
	}
	copy := p.Clone()
	return &copy, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, vaultID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions[vaultID]))
	for _, p := range s.positions[vaultID] {
		positions = append(positions, p.Clone())
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Account < positions[j].Account
	})
	return positions, nil
}

func (s *MemoryStore) InsertLiquidationRecord(_ context.Context, r *model.LiquidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.liquidations = append(s.liquidations, *r)
	return nil
}

func (s *MemoryStore) ListLiquidationRecords(_ context.Context, borrower string) ([]model.LiquidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LiquidationRecord
	for _, r := range s.liquidations {
		if r.Borrower == borrower {
			result = append(result, r)
		}
	}
	return result, nil
}

// cloneEvent detaches the nested position so callers cannot mutate stored
// state through the returned event.
func cloneEvent(e model.Event) model.Event {
	if e.Position != nil {
		p := e.Position.Clone()
		e.Position = &p
	}
	return e
}
