package models

import (
	"context"
	"errors"
)

// ErrDuplicateKey is returned by Insert* when the primary or unique key already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// Tx is the unit of work handed to Store.RunInTx. Everything written through
// one Tx commits together or not at all.
//
// Update* methods are optimistic: they only apply when the stored version still
// equals the version carried by the argument, then bump it. Otherwise they
// return *ConcurrentModificationError.
type Tx interface {
	GetCycleState(site, instrumentId string) (*CycleState, error)
	ListCycleStates(site string) ([]*CycleState, error)
	InsertCycleState(state *CycleState) error
	UpdateCycleState(state *CycleState) error

	InsertReading(entry *ReadingEntry) error
	GetReading(id string) (*ReadingEntry, error)
	// ListReadings returns newest first. limit <= 0 means all.
	ListReadings(site, instrumentId string, limit int) ([]*ReadingEntry, error)

	GetStockItem(site, itemCode string) (*StockItem, error)
	// ListStockItems lists items of site, or of every site when site is empty.
	ListStockItems(site string) ([]*StockItem, error)
	InsertStockItem(item *StockItem) error
	UpdateStockItem(item *StockItem) error

	InsertStockTransaction(txn *StockTransaction) error
	GetStockTransaction(id string) (*StockTransaction, error)
	// ListStockTransactions returns newest first; itemCode "" means all items of site.
	ListStockTransactions(site, itemCode string, limit int) ([]*StockTransaction, error)

	InsertTransfer(req *TransferRequest) error
	GetTransfer(id string) (*TransferRequest, error)
	// UpdateTransferDecision applies only while the stored status is PENDING.
	UpdateTransferDecision(req *TransferRequest) error
	ListTransfers(filter TransferFilter) ([]*TransferRequest, error)

	InsertAudit(entry *AuditEntry) error
	ListAudit(entityRef string, limit int) ([]*AuditEntry, error)
	// AuditMentions reports whether any entry of entityRef has marker in its After snapshot.
	AuditMentions(entityRef, marker string) (bool, error)

	GetIdempotencyKey(scope, token string) (*IdempotencyKey, error)
	InsertIdempotencyKey(key *IdempotencyKey) error
}

type Store interface {
	// RunInTx commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

type TransferFilter struct {
	// Site matches either side of the transfer.
	Site   string
	Status TransferStatus
	Limit  int
}

func (f TransferFilter) Match(t *TransferRequest) bool {
	if f.Site != "" && t.SourceSite != f.Site && t.DestSite != f.Site {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
