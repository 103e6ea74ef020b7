package workflow

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sekura/tollops_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	admin    = models.Identity{Actor: "admin@hq", Role: models.RoleAdmin}
	operator = models.Identity{Actor: "op1@tp01", Role: models.RoleOperator, Site: "TP01"}
	op02     = models.Identity{Actor: "op2@tp02", Role: models.RoleOperator, Site: "TP02"}
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// flakyStore wraps a store to simulate lost commit acknowledgements and failing audit writes.
type flakyStore struct {
	models.Store
	mu sync.Mutex
	// failCommits makes the next n successful transactions report a persistence error.
	failCommits int
	failAudit   bool
}

type auditFailTx struct {
	models.Tx
}

func (t auditFailTx) InsertAudit(*models.AuditEntry) error {
	return &models.PersistenceError{Op: "insert audit", Err: errors.New("disk full")}
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(tx models.Tx) error) error {
	s.mu.Lock()
	failAudit := s.failAudit
	s.mu.Unlock()

	err := s.Store.RunInTx(ctx, func(tx models.Tx) error {
		if failAudit {
			return fn(auditFailTx{tx})
		}
		return fn(tx)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits > 0 {
		s.failCommits--
		return &models.PersistenceError{Op: "commit", Err: errors.New("connection reset by peer")}
	}
	return nil
}

func (s *flakyStore) armCommitFailure(n int) {
	s.mu.Lock()
	s.failCommits = n
	s.mu.Unlock()
}

func (s *flakyStore) setAuditFailure(v bool) {
	s.mu.Lock()
	s.failAudit = v
	s.mu.Unlock()
}

type testLedgers struct {
	store     *flakyStore
	audit     *AuditTrail
	cycles    *CycleLedger
	stock     *StockLedger
	transfers *TransferWorkflow
}

func newTestLedgers(t *testing.T) *testLedgers {
	t.Helper()
	logger := quietLogger()
	store := &flakyStore{Store: models.NewMemoryStore()}
	locker := NewLocalLocker()
	audit := NewAuditTrail(store, nil, logger)
	return &testLedgers{
		store:     store,
		audit:     audit,
		cycles:    NewCycleLedger(store, locker, audit, logger),
		stock:     NewStockLedger(store, locker, audit, logger),
		transfers: NewTransferWorkflow(store, locker, audit, logger),
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (tl *testLedgers) seedItem(t *testing.T, site, code, name, qty string) {
	t.Helper()
	q := dec(qty)
	if _, err := tl.stock.UpsertItem(context.Background(), UpsertItemRequest{
		Site:     site,
		ItemCode: code,
		ItemName: name,
		Quantity: &q,
		Identity: admin,
	}); err != nil {
		t.Fatalf("seed %s/%s: %v", site, code, err)
	}
}

func (tl *testLedgers) balance(t *testing.T, site, code string) decimal.Decimal {
	t.Helper()
	item, err := tl.stock.Lookup(context.Background(), site, code)
	if err != nil {
		t.Fatalf("lookup %s/%s: %v", site, code, err)
	}
	return item.AvailableQuantity
}

func (tl *testLedgers) auditCount(t *testing.T, entityRef string, action models.AuditAction) int {
	t.Helper()
	entries, err := tl.audit.List(context.Background(), entityRef, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
