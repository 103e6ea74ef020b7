package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sekura/tollops_backend/models"
)

func TestStockLedger_ApplyInAndOut(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "CONE-750", "Traffic Cone 750mm", "40")
	ctx := context.Background()

	res, err := tl.stock.Apply(ctx, ApplyRequest{
		Site: "TP01", ItemCode: "CONE-750", Direction: models.StockDirectionIn,
		Quantity: dec("10"), Annotation: "delivery", Identity: operator,
	})
	if err != nil {
		t.Fatalf("stock in: %v", err)
	}
	if !res.NewBalance.Equal(dec("50")) {
		t.Fatalf("expected 50, got %s", res.NewBalance)
	}
	res, err = tl.stock.Apply(ctx, ApplyRequest{
		Site: "TP01", ItemCode: "CONE-750", Direction: models.StockDirectionOut,
		Quantity: dec("50"), Identity: operator,
	})
	if err != nil {
		t.Fatalf("stock out to zero: %v", err)
	}
	if !res.NewBalance.IsZero() {
		t.Fatalf("expected 0, got %s", res.NewBalance)
	}
	if n := tl.auditCount(t, stockEntityRef("TP01", "CONE-750"), models.AuditActionStockOut); n != 1 {
		t.Fatalf("expected 1 stock out audit entry, got %d", n)
	}
}

func TestStockLedger_InsufficientLeavesBalance(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "CONE-750", "Traffic Cone 750mm", "5")
	ctx := context.Background()

	_, err := tl.stock.Apply(ctx, ApplyRequest{
		Site: "TP01", ItemCode: "CONE-750", Direction: models.StockDirectionOut,
		Quantity: dec("5.0001"), Identity: operator,
	})
	var ins *models.InsufficientStockError
	if !errors.As(err, &ins) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !ins.Available.Equal(dec("5")) {
		t.Fatalf("expected available 5 in error, got %s", ins.Available)
	}
	if got := tl.balance(t, "TP01", "CONE-750"); !got.Equal(dec("5")) {
		t.Fatalf("balance changed to %s", got)
	}
	txns, _ := tl.stock.Transactions(ctx, "TP01", "CONE-750", 0)
	if len(txns) != 1 {
		t.Fatalf("expected only the seed movement, got %d", len(txns))
	}
}

func TestStockLedger_ApplyValidation(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "CONE-750", "Traffic Cone 750mm", "5")
	ctx := context.Background()

	cases := []struct {
		name string
		req  ApplyRequest
		want error
	}{
		{"zero quantity", ApplyRequest{Site: "TP01", ItemCode: "CONE-750", Direction: models.StockDirectionIn, Quantity: dec("0"), Identity: operator}, models.ErrFormat},
		{"negative quantity", ApplyRequest{Site: "TP01", ItemCode: "CONE-750", Direction: models.StockDirectionIn, Quantity: dec("-1"), Identity: operator}, models.ErrFormat},
		{"bad direction", ApplyRequest{Site: "TP01", ItemCode: "CONE-750", Direction: "SIDEWAYS", Quantity: dec("1"), Identity: operator}, models.ErrFormat},
		{"unknown item", ApplyRequest{Site: "TP01", ItemCode: "NOPE", Direction: models.StockDirectionIn, Quantity: dec("1"), Identity: operator}, models.ErrNotInitialized},
		{"other site", ApplyRequest{Site: "TP01", ItemCode: "CONE-750", Direction: models.StockDirectionIn, Quantity: dec("1"), Identity: op02}, models.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tl.stock.Apply(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if got := tl.balance(t, "TP01", "CONE-750"); !got.Equal(dec("5")) {
		t.Fatalf("balance changed to %s", got)
	}
}

func TestStockLedger_ReplayAfterLostCommit(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "BARREL", "Water Barrel", "10")
	ctx := context.Background()
	req := ApplyRequest{
		Site: "TP01", ItemCode: "BARREL", Direction: models.StockDirectionOut,
		Quantity: dec("3"), IdempotencyToken: "req-42", Identity: operator,
	}

	tl.store.armCommitFailure(1)
	if _, err := tl.stock.Apply(ctx, req); !models.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	res, err := tl.stock.Apply(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Replayed {
		t.Fatalf("expected a replayed result")
	}
	if !res.NewBalance.Equal(dec("7")) {
		t.Fatalf("expected 7, got %s", res.NewBalance)
	}
	if got := tl.balance(t, "TP01", "BARREL"); !got.Equal(dec("7")) {
		t.Fatalf("retry applied the movement twice, balance %s", got)
	}
	if n := tl.auditCount(t, stockEntityRef("TP01", "BARREL"), models.AuditActionStockOut); n != 1 {
		t.Fatalf("expected 1 audit entry, got %d", n)
	}
}

func TestStockLedger_ApplyBulk(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "A", "Cone", "5")
	tl.seedItem(t, "TP01", "B", "Barricade", "1")
	ctx := context.Background()

	results := tl.stock.ApplyBulk(ctx, BulkApplyRequest{
		Site:      "TP01",
		Direction: models.StockDirectionOut,
		Lines: []BulkLine{
			{ItemCode: "A", Quantity: dec("2")},
			{ItemCode: "B", Quantity: dec("0")},
			{ItemCode: "B", Quantity: dec("3")},
		},
		IdempotencyToken: "bulk-1",
		Identity:         operator,
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || !results[0].Result.NewBalance.Equal(dec("3")) {
		t.Fatalf("line 0: %+v", results[0])
	}
	if !results[1].Skipped {
		t.Fatalf("zero line should be skipped")
	}
	if !errors.Is(results[2].Err, models.ErrInsufficientStock) {
		t.Fatalf("line 2 expected insufficient, got %v", results[2].Err)
	}
	if got := tl.balance(t, "TP01", "B"); !got.Equal(dec("1")) {
		t.Fatalf("failed line changed balance to %s", got)
	}
}

func TestStockLedger_UpsertBooksDifference(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "A", "Cone", "5")
	tl.seedItem(t, "TP01", "A", "Cone 750", "2")
	ctx := context.Background()

	item, err := tl.stock.Lookup(ctx, "TP01", "A")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if item.ItemName != "Cone 750" || !item.AvailableQuantity.Equal(dec("2")) {
		t.Fatalf("unexpected item %+v", item)
	}
	txns, _ := tl.stock.Transactions(ctx, "TP01", "A", 0)
	if len(txns) != 2 {
		t.Fatalf("expected seed and adjustment movements, got %d", len(txns))
	}
	if txns[0].ReferenceType != StockRefAdjustment || txns[0].Direction != models.StockDirectionOut {
		t.Fatalf("unexpected adjustment %+v", txns[0])
	}

	_, err = tl.stock.UpsertItem(ctx, UpsertItemRequest{Site: "TP01", ItemCode: "Z", ItemName: "Zip", Identity: operator})
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected forbidden for operator, got %v", err)
	}
}

func TestStockLedger_Search(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "CONE-750", "Traffic Cone", "1")
	tl.seedItem(t, "TP01", "BAR-01", "Barricade", "1")
	tl.seedItem(t, "TP01", "LAMP-9", "Blinker Lamp", "1")
	tl.seedItem(t, "TP02", "CONE-750", "Traffic Cone", "1")
	ctx := context.Background()

	fuzzy, err := tl.stock.Search(ctx, SearchRequest{Site: "TP01", Query: "trafic cone", Mode: SearchModeFuzzy})
	if err != nil {
		t.Fatalf("fuzzy: %v", err)
	}
	if len(fuzzy) != 1 || fuzzy[0].Item.ItemCode != "CONE-750" {
		t.Fatalf("unexpected fuzzy results %+v", fuzzy)
	}
	if fuzzy[0].Score < 0.9 {
		t.Fatalf("expected high score, got %v", fuzzy[0].Score)
	}

	basic, err := tl.stock.Search(ctx, SearchRequest{Site: "TP01", Query: "LAMP", Mode: SearchModeBasic})
	if err != nil {
		t.Fatalf("basic: %v", err)
	}
	if len(basic) != 1 || basic[0].Item.ItemCode != "LAMP-9" {
		t.Fatalf("unexpected basic results %+v", basic)
	}

	bad := 1.5
	if _, err := tl.stock.Search(ctx, SearchRequest{Site: "TP01", Query: "x", Threshold: &bad}); !errors.Is(err, models.ErrFormat) {
		t.Fatalf("expected format error for threshold, got %v", err)
	}
}

func TestStockLedger_ConcurrentOutNeverNegative(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "A", "Cone", "10")
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, short := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tl.stock.Apply(ctx, ApplyRequest{
				Site: "TP01", ItemCode: "A", Direction: models.StockDirectionOut,
				Quantity: dec("1"), IdempotencyToken: fmt.Sprintf("out-%d", i), Identity: operator,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok != 10 || short != n-10 {
		t.Fatalf("expected 10 successes and %d shortfalls, got %d and %d", n-10, ok, short)
	}
	if got := tl.balance(t, "TP01", "A"); !got.IsZero() {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestStockLedger_TokenScopedToItem(t *testing.T) {
	tl := newTestLedgers(t)
	tl.seedItem(t, "TP01", "CEM", "Cement Bag", "10")
	tl.seedItem(t, "TP02", "OIL", "Engine Oil", "10")
	ctx := context.Background()

	first, err := tl.stock.Apply(ctx, ApplyRequest{
		Site: "TP01", ItemCode: "CEM", Direction: models.StockDirectionOut,
		Quantity: dec("3"), IdempotencyToken: "form-1", Identity: operator,
	})
	if err != nil {
		t.Fatalf("tp01 out: %v", err)
	}
	res, err := tl.stock.Apply(ctx, ApplyRequest{
		Site: "TP02", ItemCode: "OIL", Direction: models.StockDirectionOut,
		Quantity: dec("4"), IdempotencyToken: "form-1", Identity: op02,
	})
	if err != nil {
		t.Fatalf("tp02 out with the same token: %v", err)
	}
	if res.Replayed {
		t.Fatalf("a token from another site must not replay")
	}
	if res.Transaction.Site != "TP02" || res.Transaction.ItemCode != "OIL" {
		t.Fatalf("got transaction for %s/%s", res.Transaction.Site, res.Transaction.ItemCode)
	}
	if got := tl.balance(t, "TP02", "OIL"); !got.Equal(dec("6")) {
		t.Fatalf("expected TP02/OIL 6, got %s", got)
	}
	if got := tl.balance(t, "TP01", "CEM"); !got.Equal(dec("7")) {
		t.Fatalf("expected TP01/CEM 7, got %s", got)
	}

	// A stored result that points at another item is refused, not replayed.
	err = tl.store.RunInTx(ctx, func(tx models.Tx) error {
		return tx.InsertIdempotencyKey(&models.IdempotencyKey{
			Scope:     idempotencyScope(scopeStockApply, "TP02", "OIL"),
			Token:     "form-2",
			ResultRef: first.Transaction.ID,
			Actor:     operator.Actor,
		})
	})
	if err != nil {
		t.Fatalf("insert key: %v", err)
	}
	_, err = tl.stock.Apply(ctx, ApplyRequest{
		Site: "TP02", ItemCode: "OIL", Direction: models.StockDirectionOut,
		Quantity: dec("1"), IdempotencyToken: "form-2", Identity: op02,
	})
	var fe *models.FormatError
	if !errors.As(err, &fe) || fe.Field != "idempotency_token" {
		t.Fatalf("expected idempotency_token format error, got %v", err)
	}
	if got := tl.balance(t, "TP02", "OIL"); !got.Equal(dec("6")) {
		t.Fatalf("mismatched replay moved stock, balance %s", got)
	}
}
