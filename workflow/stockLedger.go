package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Reference types recorded on stock transactions.
const (
	StockRefManual     = "MANUAL"
	StockRefSeed       = "SEED"
	StockRefAdjustment = "ADJUSTMENT"
	StockRefTransfer   = "TRANSFER"
)

// StockLedger keeps per (site, item) balances that never go negative.
type StockLedger struct {
	store  models.Store
	locker Locker
	audit  *AuditTrail
	logger *logrus.Logger
	now    func() time.Time
}

func NewStockLedger(store models.Store, locker Locker, audit *AuditTrail, logger *logrus.Logger) *StockLedger {
	return &StockLedger{store: store, locker: locker, audit: audit, logger: logger, now: time.Now}
}

type ApplyRequest struct {
	Site             string
	ItemCode         string
	Direction        models.StockDirection
	Quantity         decimal.Decimal
	Annotation       string
	IdempotencyToken string
	Identity         models.Identity
	Source           string
}

type ApplyResult struct {
	NewBalance  decimal.Decimal          `json:"new_balance"`
	Transaction *models.StockTransaction `json:"transaction"`
	Replayed    bool                     `json:"replayed"`
}

func stockLockKey(site, itemCode string) string {
	return "stock:" + models.StockKey(site, itemCode)
}

func stockEntityRef(site, itemCode string) string {
	return "stock_item:" + models.StockKey(site, itemCode)
}

func validateQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return &models.FormatError{Field: "quantity", Input: qty.String(), Reason: "must be greater than zero"}
	}
	return nil
}

func getStockItem(tx models.Tx, site, itemCode string) (*models.StockItem, error) {
	item, err := tx.GetStockItem(site, itemCode)
	if models.IsNotFound(err) {
		return nil, &models.NotInitializedError{Entity: "stock item", Key: models.StockKey(site, itemCode)}
	}
	return item, err
}

type movement struct {
	direction     models.StockDirection
	quantity      decimal.Decimal
	annotation    string
	actor         string
	referenceType string
	referenceId   string
	token         string
}

// applyMovement debits or credits item inside tx and appends its transaction.
// item is updated in place with the new balance and version.
func applyMovement(tx models.Tx, item *models.StockItem, mv movement, now time.Time) (*models.StockTransaction, error) {
	var balance decimal.Decimal
	switch mv.direction {
	case models.StockDirectionIn:
		balance = item.AvailableQuantity.Add(mv.quantity)
	case models.StockDirectionOut:
		if item.AvailableQuantity.LessThan(mv.quantity) {
			return nil, &models.InsufficientStockError{
				Key:       item.Key(),
				Available: item.AvailableQuantity,
				Requested: mv.quantity,
			}
		}
		balance = item.AvailableQuantity.Sub(mv.quantity)
	default:
		return nil, &models.FormatError{Field: "direction", Input: string(mv.direction), Reason: "must be IN or OUT"}
	}

	item.AvailableQuantity = balance
	item.UpdatedBy = mv.actor
	if err := tx.UpdateStockItem(item); err != nil {
		return nil, err
	}
	txn := &models.StockTransaction{
		ID:               uuid.NewString(),
		Site:             item.Site,
		ItemCode:         item.ItemCode,
		Direction:        mv.direction,
		Quantity:         mv.quantity,
		ResultingBalance: balance,
		Annotation:       mv.annotation,
		Actor:            mv.actor,
		ReferenceType:    mv.referenceType,
		ReferenceId:      mv.referenceId,
		IdempotencyToken: mv.token,
		ItemVersion:      item.Version,
		CreatedAt:        now.UTC(),
	}
	if err := tx.InsertStockTransaction(txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func auditActionFor(dir models.StockDirection) models.AuditAction {
	if dir == models.StockDirectionOut {
		return models.AuditActionStockOut
	}
	return models.AuditActionStockIn
}

// Apply moves stock in or out of one item.
func (l *StockLedger) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("site", req.Site), attribute.String("item_code", req.ItemCode), attribute.String("direction", string(req.Direction)))

	if err := req.Identity.RequireSite(req.Site, "move stock"); err != nil {
		return nil, err
	}
	if !req.Direction.IsValid() {
		return nil, &models.FormatError{Field: "direction", Input: string(req.Direction), Reason: "must be IN or OUT"}
	}
	if err := validateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, stockLockKey(req.Site, req.ItemCode))
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &ApplyResult{}
	var before decimal.Decimal
	scope := idempotencyScope(scopeStockApply, req.Site, req.ItemCode)
	err = l.store.RunInTx(ctx, func(tx models.Tx) error {
		ref, found, err := priorResult(tx, scope, req.IdempotencyToken)
		if err != nil {
			return err
		}
		if found {
			txn, err := tx.GetStockTransaction(ref)
			if err != nil {
				return err
			}
			if txn.Site != req.Site || txn.ItemCode != req.ItemCode {
				return tokenMismatch(req.IdempotencyToken, models.StockKey(req.Site, req.ItemCode), models.StockKey(txn.Site, txn.ItemCode))
			}
			result.Transaction = txn
			result.NewBalance = txn.ResultingBalance
			result.Replayed = true
			return nil
		}

		item, err := getStockItem(tx, req.Site, req.ItemCode)
		if err != nil {
			return err
		}
		before = item.AvailableQuantity
		txn, err := applyMovement(tx, item, movement{
			direction:     req.Direction,
			quantity:      req.Quantity,
			annotation:    strings.TrimSpace(req.Annotation),
			actor:         req.Identity.Actor,
			referenceType: StockRefManual,
			token:         strings.TrimSpace(req.IdempotencyToken),
		}, l.now())
		if err != nil {
			return err
		}
		result.Transaction = txn
		result.NewBalance = txn.ResultingBalance
		return rememberResult(tx, scope, req.IdempotencyToken, txn.ID, req.Identity.Actor)
	})
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"field":     "StockLedger.Apply",
			"site":      req.Site,
			"item_code": req.ItemCode,
			"direction": req.Direction,
		}).Debug(err.Error())
		return nil, err
	}

	txn := result.Transaction
	entityRef := stockEntityRef(req.Site, req.ItemCode)
	if result.Replayed {
		if l.audit.Covers(ctx, entityRef, txn.ID) {
			return result, nil
		}
		before = txn.ResultingBalance.Sub(txn.SignedQuantity())
	}
	_, auditErr := l.audit.Record(ctx, AuditRecord{
		Actor:     txn.Actor,
		Action:    auditActionFor(txn.Direction),
		EntityRef: entityRef,
		Before:    map[string]any{"available_quantity": before},
		After:     map[string]any{"available_quantity": txn.ResultingBalance, "transaction_id": txn.ID},
		Source:    sourceOr(req.Source),
	})
	if auditErr != nil {
		return result, auditErr
	}
	return result, nil
}

type BulkLine struct {
	ItemCode string          `json:"item_code"`
	Quantity decimal.Decimal `json:"quantity"`
}

type BulkApplyRequest struct {
	Site             string
	Direction        models.StockDirection
	Lines            []BulkLine
	Annotation       string
	IdempotencyToken string
	Identity         models.Identity
	Source           string
}

type BulkLineResult struct {
	ItemCode string       `json:"item_code"`
	Result   *ApplyResult `json:"result,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
	Err      error        `json:"-"`
	Error    string       `json:"error,omitempty"`
}

// ApplyBulk applies each line on its own; one failing line does not undo the others.
// Lines with a zero quantity are skipped.
func (l *StockLedger) ApplyBulk(ctx context.Context, req BulkApplyRequest) []BulkLineResult {
	out := make([]BulkLineResult, 0, len(req.Lines))
	for i, line := range req.Lines {
		res := BulkLineResult{ItemCode: line.ItemCode}
		if line.Quantity.IsZero() {
			res.Skipped = true
			out = append(out, res)
			continue
		}
		token := ""
		if t := strings.TrimSpace(req.IdempotencyToken); t != "" {
			token = fmt.Sprintf("%s#%d", t, i)
		}
		r, err := l.Apply(ctx, ApplyRequest{
			Site:             req.Site,
			ItemCode:         line.ItemCode,
			Direction:        req.Direction,
			Quantity:         line.Quantity,
			Annotation:       req.Annotation,
			IdempotencyToken: token,
			Identity:         req.Identity,
			Source:           req.Source,
		})
		res.Result = r
		if err != nil {
			res.Err = err
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out
}

type UpsertItemRequest struct {
	Site     string
	ItemCode string
	ItemName string
	// Quantity sets the balance when not nil. The difference is booked as a movement.
	Quantity *decimal.Decimal
	Identity models.Identity
	Source   string
}

// UpsertItem creates or renames an item and optionally sets its balance. Admin only.
func (l *StockLedger) UpsertItem(ctx context.Context, req UpsertItemRequest) (*models.StockItem, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.UpsertItem")
	defer span.End()

	if err := req.Identity.RequireAdmin("seed stock items"); err != nil {
		return nil, err
	}
	site := strings.TrimSpace(req.Site)
	code := strings.TrimSpace(req.ItemCode)
	name := strings.TrimSpace(req.ItemName)
	if site == "" {
		return nil, &models.FormatError{Field: "site", Reason: "required"}
	}
	if code == "" {
		return nil, &models.FormatError{Field: "item_code", Reason: "required"}
	}
	if req.Quantity != nil && req.Quantity.IsNegative() {
		return nil, &models.FormatError{Field: "available_quantity", Input: req.Quantity.String(), Reason: "must not be negative"}
	}

	unlock, err := l.locker.Lock(ctx, stockLockKey(site, code))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var before, after *models.StockItem
	err = l.store.RunInTx(ctx, func(tx models.Tx) error {
		item, err := tx.GetStockItem(site, code)
		if err != nil && !models.IsNotFound(err) {
			return err
		}
		refType := StockRefAdjustment
		if item == nil {
			if name == "" {
				return &models.FormatError{Field: "item_name", Reason: "required"}
			}
			item = &models.StockItem{Site: site, ItemCode: code, ItemName: name, AvailableQuantity: decimal.Zero, UpdatedBy: req.Identity.Actor}
			if err := tx.InsertStockItem(item); err != nil {
				return err
			}
			refType = StockRefSeed
		} else {
			before = item.Clone()
			if name != "" && name != item.ItemName {
				item.ItemName = name
				item.UpdatedBy = req.Identity.Actor
				if err := tx.UpdateStockItem(item); err != nil {
					return err
				}
			}
		}

		if req.Quantity != nil && !req.Quantity.Equal(item.AvailableQuantity) {
			diff := req.Quantity.Sub(item.AvailableQuantity)
			dir := models.StockDirectionIn
			if diff.IsNegative() {
				dir = models.StockDirectionOut
			}
			if _, err := applyMovement(tx, item, movement{
				direction:     dir,
				quantity:      diff.Abs(),
				annotation:    "balance set by admin",
				actor:         req.Identity.Actor,
				referenceType: refType,
			}, l.now()); err != nil {
				return err
			}
		}
		after = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, auditErr := l.audit.Record(ctx, AuditRecord{
		Actor:     req.Identity.Actor,
		Action:    models.AuditActionStockUpsert,
		EntityRef: stockEntityRef(site, code),
		Before:    before,
		After:     after,
		Source:    sourceOr(req.Source),
	})
	if auditErr != nil {
		return after, auditErr
	}
	return after, nil
}

// Lookup finds an item by exact code.
func (l *StockLedger) Lookup(ctx context.Context, site, itemCode string) (*models.StockItem, error) {
	var item *models.StockItem
	err := l.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		item, err = getStockItem(tx, site, strings.TrimSpace(itemCode))
		return err
	})
	return item, err
}

type SearchMode string

const (
	SearchModeBasic SearchMode = "basic"
	SearchModeFuzzy SearchMode = "fuzzy"
)

type SearchRequest struct {
	Site  string
	Query string
	Mode  SearchMode
	// Threshold defaults to models.DefaultSimilarityThreshold when nil.
	Threshold *float64
	Limit     int
}

// Search finds items of a site by name. Basic mode is a substring match with
// score 0; fuzzy mode ranks by similarity.
func (l *StockLedger) Search(ctx context.Context, req SearchRequest) ([]models.ScoredItem, error) {
	threshold := utils.DereferencePtr(req.Threshold, models.DefaultSimilarityThreshold)
	if threshold < 0 || threshold > 1 {
		return nil, &models.FormatError{Field: "threshold", Input: fmt.Sprint(threshold), Reason: "must be between 0 and 1"}
	}
	mode := req.Mode
	if mode == "" {
		mode = SearchModeFuzzy
	}
	limit := req.Limit
	if limit <= 0 {
		limit = models.DefaultFuzzyMaxResults
		if mode == SearchModeBasic {
			limit = models.DefaultBasicMaxResults
		}
	}
	if limit > models.MaxSearchResults {
		limit = models.MaxSearchResults
	}

	var items []*models.StockItem
	err := l.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		items, err = tx.ListStockItems(req.Site)
		return err
	})
	if err != nil {
		return nil, err
	}
	models.SortByName(items)

	switch mode {
	case SearchModeBasic:
		matched := models.FilterByName(req.Query, items, limit)
		out := make([]models.ScoredItem, 0, len(matched))
		for _, item := range matched {
			out = append(out, models.ScoredItem{Item: item})
		}
		return out, nil
	case SearchModeFuzzy:
		return models.RankBySimilarity(req.Query, items, threshold, limit), nil
	}
	return nil, &models.FormatError{Field: "mode", Input: string(mode), Reason: "must be basic or fuzzy"}
}

// Transactions lists movements of a site (optionally one item), newest first.
func (l *StockLedger) Transactions(ctx context.Context, site, itemCode string, limit int) ([]*models.StockTransaction, error) {
	var out []*models.StockTransaction
	err := l.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		out, err = tx.ListStockTransactions(site, itemCode, limit)
		return err
	})
	return out, err
}
