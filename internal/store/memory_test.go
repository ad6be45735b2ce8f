package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/model"
)

func TestMemoryStore_Events(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now().UTC()
	events := []model.Event{
		{ID: "e1", VaultID: "v", Kind: model.EventDeposit, Account: "alice", Amount: fixed.Units(100), Timestamp: now},
		{ID: "e2", VaultID: "v", Kind: model.EventBorrow, Account: "alice", Amount: fixed.Units(50), Timestamp: now},
		{ID: "e3", VaultID: "v", Kind: model.EventLiquidation, Account: "keeper", Borrower: "alice", Timestamp: now},
		{ID: "e4", VaultID: "v", Kind: model.EventDeposit, Account: "bob", Amount: fixed.Units(1), Timestamp: now},
	}
	for i := range events {
		if err := s.InsertEvent(ctx, &events[i]); err != nil {
			t.Fatalf("insert %s: %v", events[i].ID, err)
		}
	}

	if err := s.InsertEvent(ctx, &events[0]); err == nil {
		t.Error("expected duplicate event ID to be rejected")
	}

	alice, err := s.ListEventsByAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(alice) != 3 {
		t.Fatalf("expected 3 events for alice (incl. liquidation), got %d", len(alice))
	}
	if alice[0].ID != "e1" || alice[2].ID != "e3" {
		t.Errorf("events out of order: %s..%s", alice[0].ID, alice[2].ID)
	}

	recent, err := s.ListRecentEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "e4" || recent[1].ID != "e3" {
		t.Errorf("unexpected recent events: %+v", recent)
	}
}

func TestMemoryStore_Positions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetPosition(ctx, "v", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p := model.NewPosition("alice")
	p.Collateral = fixed.Units(100)
	if err := s.UpsertPosition(ctx, "v", &p); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not leak into the store.
	p.Collateral.SetUint64(0)

	got, err := s.GetPosition(ctx, "v", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Collateral.Eq(fixed.Units(100)) {
		t.Errorf("collateral = %s, want 100 units", got.Collateral.Dec())
	}

	bob := model.NewPosition("bob")
	s.UpsertPosition(ctx, "v", &bob)
	s.UpsertPosition(ctx, "other", &bob)

	list, err := s.ListPositions(ctx, "v")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Account != "alice" || list[1].Account != "bob" {
		t.Errorf("unexpected positions: %+v", list)
	}
}

func TestMemoryStore_Liquidations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r := model.LiquidationRecord{
		ID:                 "l1",
		VaultID:            "v",
		Borrower:           "alice",
		Operator:           "keeper",
		DebtCovered:        fixed.Units(10),
		CollateralReceived: fixed.Units(11),
		Timestamp:          time.Now().UTC(),
	}
	if err := s.InsertLiquidationRecord(ctx, &r); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListLiquidationRecords(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "l1" {
		t.Fatalf("unexpected records: %+v", got)
	}
	if none, _ := s.ListLiquidationRecords(ctx, "bob"); len(none) != 0 {
		t.Errorf("expected no records for bob, got %d", len(none))
	}
}
