package models

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Transactions are serialized
// and run against a copy of the data set that replaces the live one on commit.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)
var _ Tx = (*memoryTx)(nil)

type memoryData struct {
	cycles       map[string]*CycleState
	readings     map[string]*ReadingEntry
	readingOrder []string
	items        map[string]*StockItem
	stockTxns    map[string]*StockTransaction
	stockOrder   []string
	transfers    map[string]*TransferRequest
	transferIds  []string
	audits       []*AuditEntry
	idempotency  map[string]*IdempotencyKey
	nextIdemId   int
}

func newMemoryData() *memoryData {
	return &memoryData{
		cycles:      map[string]*CycleState{},
		readings:    map[string]*ReadingEntry{},
		items:       map[string]*StockItem{},
		stockTxns:   map[string]*StockTransaction{},
		transfers:   map[string]*TransferRequest{},
		idempotency: map[string]*IdempotencyKey{},
	}
}

// copy is shallow on values: a Tx never mutates a stored pointer, it replaces it.
func (d *memoryData) copy() *memoryData {
	c := &memoryData{
		cycles:       make(map[string]*CycleState, len(d.cycles)),
		readings:     make(map[string]*ReadingEntry, len(d.readings)),
		readingOrder: append([]string(nil), d.readingOrder...),
		items:        make(map[string]*StockItem, len(d.items)),
		stockTxns:    make(map[string]*StockTransaction, len(d.stockTxns)),
		stockOrder:   append([]string(nil), d.stockOrder...),
		transfers:    make(map[string]*TransferRequest, len(d.transfers)),
		transferIds:  append([]string(nil), d.transferIds...),
		audits:       append([]*AuditEntry(nil), d.audits...),
		idempotency:  make(map[string]*IdempotencyKey, len(d.idempotency)),
		nextIdemId:   d.nextIdemId,
	}
	for k, v := range d.cycles {
		c.cycles[k] = v
	}
	for k, v := range d.readings {
		c.readings[k] = v
	}
	for k, v := range d.items {
		c.items[k] = v
	}
	for k, v := range d.stockTxns {
		c.stockTxns[k] = v
	}
	for k, v := range d.transfers {
		c.transfers[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData(), now: time.Now}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "begin", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{data: s.data.copy(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

type memoryTx struct {
	data *memoryData
	now  func() time.Time
}

func (t *memoryTx) GetCycleState(site, instrumentId string) (*CycleState, error) {
	s, ok := t.data.cycles[CycleKey(site, instrumentId)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return s.Clone(), nil
}

func (t *memoryTx) ListCycleStates(site string) ([]*CycleState, error) {
	out := []*CycleState{}
	for _, s := range t.data.cycles {
		if site == "" || s.Site == site {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (t *memoryTx) InsertCycleState(state *CycleState) error {
	key := state.Key()
	if _, ok := t.data.cycles[key]; ok {
		return ErrDuplicateKey
	}
	now := t.now()
	state.Version = 1
	state.CreatedAt = now
	state.UpdatedAt = now
	t.data.cycles[key] = state.Clone()
	return nil
}

func (t *memoryTx) UpdateCycleState(state *CycleState) error {
	key := state.Key()
	cur, ok := t.data.cycles[key]
	if !ok || cur.Version != state.Version {
		return &ConcurrentModificationError{Entity: "cycle state", Key: key}
	}
	state.Version++
	state.CreatedAt = cur.CreatedAt
	state.UpdatedAt = t.now()
	t.data.cycles[key] = state.Clone()
	return nil
}

func (t *memoryTx) InsertReading(entry *ReadingEntry) error {
	if _, ok := t.data.readings[entry.ID]; ok {
		return ErrDuplicateKey
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now()
	}
	t.data.readings[entry.ID] = entry.Clone()
	t.data.readingOrder = append(t.data.readingOrder, entry.ID)
	return nil
}

func (t *memoryTx) GetReading(id string) (*ReadingEntry, error) {
	r, ok := t.data.readings[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.Clone(), nil
}

func (t *memoryTx) ListReadings(site, instrumentId string, limit int) ([]*ReadingEntry, error) {
	out := []*ReadingEntry{}
	for i := len(t.data.readingOrder) - 1; i >= 0; i-- {
		r := t.data.readings[t.data.readingOrder[i]]
		if r.Site != site || r.InstrumentId != instrumentId {
			continue
		}
		out = append(out, r.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) GetStockItem(site, itemCode string) (*StockItem, error) {
	i, ok := t.data.items[StockKey(site, itemCode)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return i.Clone(), nil
}

func (t *memoryTx) ListStockItems(site string) ([]*StockItem, error) {
	out := []*StockItem{}
	for _, i := range t.data.items {
		if site == "" || i.Site == site {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key() < out[b].Key() })
	return out, nil
}

func (t *memoryTx) InsertStockItem(item *StockItem) error {
	key := item.Key()
	if _, ok := t.data.items[key]; ok {
		return ErrDuplicateKey
	}
	now := t.now()
	item.Version = 1
	item.CreatedAt = now
	item.UpdatedAt = now
	t.data.items[key] = item.Clone()
	return nil
}

func (t *memoryTx) UpdateStockItem(item *StockItem) error {
	key := item.Key()
	cur, ok := t.data.items[key]
	if !ok || cur.Version != item.Version {
		return &ConcurrentModificationError{Entity: "stock item", Key: key}
	}
	item.Version++
	item.CreatedAt = cur.CreatedAt
	item.UpdatedAt = t.now()
	t.data.items[key] = item.Clone()
	return nil
}

func (t *memoryTx) InsertStockTransaction(txn *StockTransaction) error {
	if _, ok := t.data.stockTxns[txn.ID]; ok {
		return ErrDuplicateKey
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = t.now()
	}
	c := *txn
	t.data.stockTxns[txn.ID] = &c
	t.data.stockOrder = append(t.data.stockOrder, txn.ID)
	return nil
}

func (t *memoryTx) GetStockTransaction(id string) (*StockTransaction, error) {
	txn, ok := t.data.stockTxns[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	c := *txn
	return &c, nil
}

func (t *memoryTx) ListStockTransactions(site, itemCode string, limit int) ([]*StockTransaction, error) {
	out := []*StockTransaction{}
	for i := len(t.data.stockOrder) - 1; i >= 0; i-- {
		txn := t.data.stockTxns[t.data.stockOrder[i]]
		if (site != "" && txn.Site != site) || (itemCode != "" && txn.ItemCode != itemCode) {
			continue
		}
		c := *txn
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) InsertTransfer(req *TransferRequest) error {
	if _, ok := t.data.transfers[req.ID]; ok {
		return ErrDuplicateKey
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = t.now()
	}
	t.data.transfers[req.ID] = req.Clone()
	t.data.transferIds = append(t.data.transferIds, req.ID)
	return nil
}

func (t *memoryTx) GetTransfer(id string) (*TransferRequest, error) {
	req, ok := t.data.transfers[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return req.Clone(), nil
}

func (t *memoryTx) UpdateTransferDecision(req *TransferRequest) error {
	cur, ok := t.data.transfers[req.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.Status != TransferStatusPending {
		return &ConcurrentModificationError{Entity: "transfer", Key: req.ID}
	}
	t.data.transfers[req.ID] = req.Clone()
	return nil
}

func (t *memoryTx) ListTransfers(filter TransferFilter) ([]*TransferRequest, error) {
	out := []*TransferRequest{}
	for i := len(t.data.transferIds) - 1; i >= 0; i-- {
		req := t.data.transfers[t.data.transferIds[i]]
		if !filter.Match(req) {
			continue
		}
		out = append(out, req.Clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) InsertAudit(entry *AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now()
	}
	c := *entry
	t.data.audits = append(t.data.audits, &c)
	return nil
}

func (t *memoryTx) ListAudit(entityRef string, limit int) ([]*AuditEntry, error) {
	out := []*AuditEntry{}
	for i := len(t.data.audits) - 1; i >= 0; i-- {
		a := t.data.audits[i]
		if entityRef != "" && a.EntityRef != entityRef {
			continue
		}
		c := *a
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) AuditMentions(entityRef, marker string) (bool, error) {
	for _, a := range t.data.audits {
		if a.EntityRef == entityRef && strings.Contains(a.After, marker) {
			return true, nil
		}
	}
	return false, nil
}

func idemKey(scope, token string) string {
	return scope + "|" + token
}

func (t *memoryTx) GetIdempotencyKey(scope, token string) (*IdempotencyKey, error) {
	k, ok := t.data.idempotency[idemKey(scope, token)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	c := *k
	return &c, nil
}

func (t *memoryTx) InsertIdempotencyKey(key *IdempotencyKey) error {
	k := idemKey(key.Scope, key.Token)
	if _, ok := t.data.idempotency[k]; ok {
		return ErrDuplicateKey
	}
	t.data.nextIdemId++
	key.ID = t.data.nextIdemId
	key.CreatedAt = t.now()
	c := *key
	t.data.idempotency[k] = &c
	return nil
}
