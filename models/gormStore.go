package models

import (
	"context"
	"errors"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// GormStore persists the ledgers in MySQL through GORM.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)
var _ Tx = (*gormTx)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if s.db == nil {
		return &PersistenceError{Op: "begin", Err: errors.New("db is nil")}
	}
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		fnErr = fn(&gormTx{db: db})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		// business error from fn, already typed
		return fnErr
	}
	return &PersistenceError{Op: "commit", Err: err}
}

type gormTx struct {
	db *gorm.DB
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// wrap turns GORM errors into the store error vocabulary.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	if isDuplicateKeyErr(err) {
		return ErrDuplicateKey
	}
	return &PersistenceError{Op: op, Err: err}
}

func (t *gormTx) GetCycleState(site, instrumentId string) (*CycleState, error) {
	var s CycleState
	err := t.db.Where("site = ? AND instrument_id = ?", site, instrumentId).Take(&s).Error
	if err != nil {
		return nil, wrap("get cycle state", err)
	}
	return &s, nil
}

func (t *gormTx) ListCycleStates(site string) ([]*CycleState, error) {
	var out []*CycleState
	q := t.db.Model(&CycleState{})
	if site != "" {
		q = q.Where("site = ?", site)
	}
	if err := q.Order("site, instrument_id").Find(&out).Error; err != nil {
		return nil, wrap("list cycle states", err)
	}
	return out, nil
}

func (t *gormTx) InsertCycleState(state *CycleState) error {
	state.Version = 1
	return wrap("insert cycle state", t.db.Create(state).Error)
}

func (t *gormTx) UpdateCycleState(state *CycleState) error {
	res := t.db.Model(&CycleState{}).
		Where("site = ? AND instrument_id = ? AND version = ?", state.Site, state.InstrumentId, state.Version).
		Updates(map[string]interface{}{
			"metric_set":     state.MetricSet,
			"opening_values": state.OpeningValues,
			"updated_by":     state.UpdatedBy,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return wrap("update cycle state", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConcurrentModificationError{Entity: "cycle state", Key: state.Key()}
	}
	state.Version++
	return nil
}

func (t *gormTx) InsertReading(entry *ReadingEntry) error {
	return wrap("insert reading", t.db.Create(entry).Error)
}

func (t *gormTx) GetReading(id string) (*ReadingEntry, error) {
	var r ReadingEntry
	if err := t.db.Where("id = ?", id).Take(&r).Error; err != nil {
		return nil, wrap("get reading", err)
	}
	return &r, nil
}

func (t *gormTx) ListReadings(site, instrumentId string, limit int) ([]*ReadingEntry, error) {
	var out []*ReadingEntry
	q := t.db.Where("site = ? AND instrument_id = ?", site, instrumentId).Order("sequence DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, wrap("list readings", err)
	}
	return out, nil
}

func (t *gormTx) GetStockItem(site, itemCode string) (*StockItem, error) {
	var i StockItem
	if err := t.db.Where("site = ? AND item_code = ?", site, itemCode).Take(&i).Error; err != nil {
		return nil, wrap("get stock item", err)
	}
	return &i, nil
}

func (t *gormTx) ListStockItems(site string) ([]*StockItem, error) {
	var out []*StockItem
	q := t.db.Model(&StockItem{})
	if site != "" {
		q = q.Where("site = ?", site)
	}
	if err := q.Order("site, item_code").Find(&out).Error; err != nil {
		return nil, wrap("list stock items", err)
	}
	return out, nil
}

func (t *gormTx) InsertStockItem(item *StockItem) error {
	item.Version = 1
	return wrap("insert stock item", t.db.Create(item).Error)
}

func (t *gormTx) UpdateStockItem(item *StockItem) error {
	res := t.db.Model(&StockItem{}).
		Where("site = ? AND item_code = ? AND version = ?", item.Site, item.ItemCode, item.Version).
		Updates(map[string]interface{}{
			"item_name":          item.ItemName,
			"available_quantity": item.AvailableQuantity,
			"updated_by":         item.UpdatedBy,
			"version":            gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return wrap("update stock item", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConcurrentModificationError{Entity: "stock item", Key: item.Key()}
	}
	item.Version++
	return nil
}

func (t *gormTx) InsertStockTransaction(txn *StockTransaction) error {
	return wrap("insert stock transaction", t.db.Create(txn).Error)
}

func (t *gormTx) GetStockTransaction(id string) (*StockTransaction, error) {
	var txn StockTransaction
	if err := t.db.Where("id = ?", id).Take(&txn).Error; err != nil {
		return nil, wrap("get stock transaction", err)
	}
	return &txn, nil
}

func (t *gormTx) ListStockTransactions(site, itemCode string, limit int) ([]*StockTransaction, error) {
	var out []*StockTransaction
	q := t.db.Model(&StockTransaction{})
	if site != "" {
		q = q.Where("site = ?", site)
	}
	if itemCode != "" {
		q = q.Where("item_code = ?", itemCode)
	}
	q = q.Order("created_at DESC, item_version DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, wrap("list stock transactions", err)
	}
	return out, nil
}

func (t *gormTx) InsertTransfer(req *TransferRequest) error {
	return wrap("insert transfer", t.db.Create(req).Error)
}

func (t *gormTx) GetTransfer(id string) (*TransferRequest, error) {
	var req TransferRequest
	if err := t.db.Where("id = ?", id).Take(&req).Error; err != nil {
		return nil, wrap("get transfer", err)
	}
	return &req, nil
}

func (t *gormTx) UpdateTransferDecision(req *TransferRequest) error {
	res := t.db.Model(&TransferRequest{}).
		Where("id = ? AND status = ?", req.ID, TransferStatusPending).
		Updates(map[string]interface{}{
			"status":     req.Status,
			"decider":    req.Decider,
			"decided_at": req.DecidedAt,
		})
	if res.Error != nil {
		return wrap("update transfer", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConcurrentModificationError{Entity: "transfer", Key: req.ID}
	}
	return nil
}

func (t *gormTx) ListTransfers(filter TransferFilter) ([]*TransferRequest, error) {
	var out []*TransferRequest
	q := t.db.Model(&TransferRequest{})
	if filter.Site != "" {
		q = q.Where("source_site = ? OR dest_site = ?", filter.Site, filter.Site)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	q = q.Order("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, wrap("list transfers", err)
	}
	return out, nil
}

func (t *gormTx) InsertAudit(entry *AuditEntry) error {
	return wrap("insert audit", t.db.Create(entry).Error)
}

func (t *gormTx) ListAudit(entityRef string, limit int) ([]*AuditEntry, error) {
	var out []*AuditEntry
	q := t.db.Model(&AuditEntry{})
	if entityRef != "" {
		q = q.Where("entity_ref = ?", entityRef)
	}
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, wrap("list audit", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (t *gormTx) AuditMentions(entityRef, marker string) (bool, error) {
	var n int64
	err := t.db.Model(&AuditEntry{}).
		Where("entity_ref = ? AND `after` LIKE ?", entityRef, "%"+likeEscaper.Replace(marker)+"%").
		Count(&n).Error
	if err != nil {
		return false, wrap("audit mentions", err)
	}
	return n > 0, nil
}

func (t *gormTx) GetIdempotencyKey(scope, token string) (*IdempotencyKey, error) {
	var k IdempotencyKey
	if err := t.db.Where("scope = ? AND token = ?", scope, token).Take(&k).Error; err != nil {
		return nil, wrap("get idempotency key", err)
	}
	return &k, nil
}

func (t *gormTx) InsertIdempotencyKey(key *IdempotencyKey) error {
	return wrap("insert idempotency key", t.db.Create(key).Error)
}
