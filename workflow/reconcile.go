package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Reconcile check types.
const (
	CheckStockBalance  = "STOCK_BALANCE"
	CheckStockChain    = "STOCK_CHAIN"
	CheckReadingChain  = "READING_CHAIN"
	CheckCycleOpening  = "CYCLE_OPENING"
	CheckTransferState = "TRANSFER_STATE"
)

type ReconcileIssue struct {
	CheckType  string `json:"check_type"`
	EntityType string `json:"entity_type"`
	EntityKey  string `json:"entity_key"`
	Details    string `json:"details"`
}

type ReconcileReport struct {
	CorrelationId   string           `json:"correlation_id"`
	Site            string           `json:"site,omitempty"`
	CheckedItems    int              `json:"checked_items"`
	CheckedCycles   int              `json:"checked_cycles"`
	CheckedTransfer int              `json:"checked_transfers"`
	Issues          []ReconcileIssue `json:"issues"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
}

func (r *ReconcileReport) OK() bool {
	return len(r.Issues) == 0
}

func (r *ReconcileReport) add(checkType, entityType, key, format string, args ...any) {
	r.Issues = append(r.Issues, ReconcileIssue{
		CheckType:  checkType,
		EntityType: entityType,
		EntityKey:  key,
		Details:    fmt.Sprintf(format, args...),
	})
}

// Reconciler replays the ledgers from their append-only history and reports
// every place where the stored state disagrees with it. It never repairs.
type Reconciler struct {
	store  models.Store
	logger *logrus.Logger
}

func NewReconciler(store models.Store, logger *logrus.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Run checks one site, or every site when site is empty.
func (r *Reconciler) Run(ctx context.Context, site string) (*ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.Run", trace.WithAttributes(attribute.String("site", site)))
	defer span.End()

	cid, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || cid == "" {
		cid = uuid.NewString()
	}
	report := &ReconcileReport{CorrelationId: cid, Site: site, Issues: []ReconcileIssue{}, StartedAt: time.Now().UTC()}

	err := r.store.RunInTx(ctx, func(tx models.Tx) error {
		if err := r.checkStock(tx, site, report); err != nil {
			return err
		}
		if err := r.checkCycles(tx, site, report); err != nil {
			return err
		}
		return r.checkTransfers(tx, site, report)
	})
	if err != nil {
		return nil, err
	}
	report.FinishedAt = time.Now().UTC()

	entry := r.logger.WithFields(logrus.Fields{
		"field":          "Reconciler.Run",
		"site":           site,
		"correlation_id": cid,
		"items":          report.CheckedItems,
		"cycles":         report.CheckedCycles,
		"issues":         len(report.Issues),
	})
	if report.OK() {
		entry.Info("reconciliation completed")
	} else {
		entry.Warn("reconciliation found mismatches")
	}
	return report, nil
}

func (r *Reconciler) checkStock(tx models.Tx, site string, report *ReconcileReport) error {
	items, err := tx.ListStockItems(site)
	if err != nil {
		return err
	}
	for _, item := range items {
		report.CheckedItems++
		key := item.Key()
		if item.AvailableQuantity.IsNegative() {
			report.add(CheckStockBalance, "StockItem", key, "negative balance %s", item.AvailableQuantity)
		}
		txns, err := tx.ListStockTransactions(item.Site, item.ItemCode, 0)
		if err != nil {
			return err
		}
		sort.SliceStable(txns, func(i, j int) bool { return txns[i].ItemVersion < txns[j].ItemVersion })

		running := decimal.Zero
		for _, txn := range txns {
			running = running.Add(txn.SignedQuantity())
			if !running.Equal(txn.ResultingBalance) {
				report.add(CheckStockChain, "StockTransaction", txn.ID,
					"replayed balance %s but transaction recorded %s", running, txn.ResultingBalance)
				running = txn.ResultingBalance
			}
		}
		if !running.Equal(item.AvailableQuantity) {
			report.add(CheckStockBalance, "StockItem", key,
				"balance %s does not match movement history %s", item.AvailableQuantity, running)
		}
	}
	return nil
}

func (r *Reconciler) checkCycles(tx models.Tx, site string, report *ReconcileReport) error {
	states, err := tx.ListCycleStates(site)
	if err != nil {
		return err
	}
	for _, state := range states {
		report.CheckedCycles++
		readings, err := tx.ListReadings(state.Site, state.InstrumentId, 0)
		if err != nil {
			return err
		}
		if len(readings) == 0 {
			continue
		}
		sort.SliceStable(readings, func(i, j int) bool { return readings[i].Sequence < readings[j].Sequence })

		for i := 1; i < len(readings); i++ {
			prev, cur := readings[i-1], readings[i]
			// a re-seed between two closes leaves a gap in the sequence
			if cur.Sequence != prev.Sequence+1 {
				continue
			}
			if !cur.OpeningValues.Equal(prev.ClosingValues) {
				report.add(CheckReadingChain, "ReadingEntry", cur.ID,
					"opening of sequence %d does not equal closing of sequence %d", cur.Sequence, prev.Sequence)
			}
		}
		latest := readings[len(readings)-1]
		if state.Version == latest.Sequence && !state.OpeningValues.Equal(latest.ClosingValues) {
			report.add(CheckCycleOpening, "CycleState", state.Key(),
				"opening does not equal closing of reading %s", latest.ID)
		}
	}
	return nil
}

func (r *Reconciler) checkTransfers(tx models.Tx, site string, report *ReconcileReport) error {
	transfers, err := tx.ListTransfers(models.TransferFilter{Site: site})
	if err != nil {
		return err
	}
	for _, t := range transfers {
		report.CheckedTransfer++
		if t.Status != models.TransferStatusAccepted {
			continue
		}
		var out, in int
		txns, err := tx.ListStockTransactions(t.SourceSite, t.ItemCode, 0)
		if err != nil {
			return err
		}
		for _, txn := range txns {
			if txn.ReferenceType == StockRefTransfer && txn.ReferenceId == t.ID && txn.Direction == models.StockDirectionOut {
				out++
			}
		}
		txns, err = tx.ListStockTransactions(t.DestSite, t.ItemCode, 0)
		if err != nil {
			return err
		}
		for _, txn := range txns {
			if txn.ReferenceType == StockRefTransfer && txn.ReferenceId == t.ID && txn.Direction == models.StockDirectionIn {
				in++
			}
		}
		if out != 1 || in != 1 {
			report.add(CheckTransferState, "TransferRequest", t.ID,
				"accepted transfer has %d source and %d destination movements", out, in)
		}
	}
	return nil
}
