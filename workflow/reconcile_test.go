package workflow

import (
	"context"
	"testing"

	"github.com/sekura/tollops_backend/models"
)

func TestReconciler_ReportsDrift(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "A", "Cone", "10")
	initDG(t, tl)
	ctx := context.Background()

	if _, err := tl.cycles.Close(ctx, CloseRequest{
		Site: "TP01", InstrumentId: "DG1",
		Closing:  map[string]string{"diesel": "100", "kwh": "10600", "rh": "4436:00"},
		Identity: operator,
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	// move the balance without a movement
	err := tl.store.Store.RunInTx(ctx, func(tx models.Tx) error {
		item, err := tx.GetStockItem("TP01", "A")
		if err != nil {
			return err
		}
		item.AvailableQuantity = dec("11")
		return tx.UpdateStockItem(item)
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}

	report, err := NewReconciler(tl.store, quietLogger()).Run(ctx, "TP01")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.CheckedItems != 1 || report.CheckedCycles != 1 {
		t.Fatalf("unexpected coverage %+v", report)
	}
	if len(report.Issues) != 1 || report.Issues[0].CheckType != CheckStockBalance {
		t.Fatalf("expected one stock balance issue, got %+v", report.Issues)
	}
}
