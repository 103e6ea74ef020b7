package models

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx Tx) error {
		if err := tx.InsertStockItem(&StockItem{Site: "TP01", ItemCode: "A", ItemName: "Cone"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = s.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.GetStockItem("TP01", "A"); !IsNotFound(err) {
			t.Fatalf("expected item to be rolled back, got %v", err)
		}
		return nil
	})
}

func TestMemoryStore_OptimisticVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	err := s.RunInTx(ctx, func(tx Tx) error {
		return tx.InsertStockItem(&StockItem{Site: "TP01", ItemCode: "A", ItemName: "Cone", AvailableQuantity: decimal.NewFromInt(5)})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var stale *StockItem
	_ = s.RunInTx(ctx, func(tx Tx) error {
		stale, _ = tx.GetStockItem("TP01", "A")
		return nil
	})
	err = s.RunInTx(ctx, func(tx Tx) error {
		fresh, _ := tx.GetStockItem("TP01", "A")
		fresh.AvailableQuantity = decimal.NewFromInt(7)
		return tx.UpdateStockItem(fresh)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	err = s.RunInTx(ctx, func(tx Tx) error {
		stale.AvailableQuantity = decimal.NewFromInt(9)
		return tx.UpdateStockItem(stale)
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ConcurrentModificationError, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.RunInTx(ctx, func(tx Tx) error {
		return tx.InsertCycleState(&CycleState{Site: "TP01", InstrumentId: "DG1", MetricSet: MetricSetDG, OpeningValues: MetricValues{"kwh": decimal.NewFromInt(10)}})
	})
	_ = s.RunInTx(ctx, func(tx Tx) error {
		st, _ := tx.GetCycleState("TP01", "DG1")
		st.OpeningValues["kwh"] = decimal.NewFromInt(99)
		return nil
	})
	_ = s.RunInTx(ctx, func(tx Tx) error {
		st, _ := tx.GetCycleState("TP01", "DG1")
		if !st.OpeningValues["kwh"].Equal(decimal.NewFromInt(10)) {
			t.Fatalf("stored state was mutated through a returned copy")
		}
		return nil
	})
}

func TestMemoryStore_DuplicateIdempotencyKey(t *testing.T) {
	s := NewMemoryStore()
	err := s.RunInTx(context.Background(), func(tx Tx) error {
		if err := tx.InsertIdempotencyKey(&IdempotencyKey{Scope: "close", Token: "t1", ResultRef: "r1"}); err != nil {
			return err
		}
		return tx.InsertIdempotencyKey(&IdempotencyKey{Scope: "close", Token: "t1", ResultRef: "r2"})
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
}
