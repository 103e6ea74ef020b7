package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sekura/tollops_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// TransferWorkflow moves stock between sites once the destination accepts.
//
//	PENDING -> ACCEPTED
//	PENDING -> REJECTED
//
// Nothing is reserved at creation; the balance check at acceptance is the one that counts.
type TransferWorkflow struct {
	store  models.Store
	locker Locker
	audit  *AuditTrail
	logger *logrus.Logger
	now    func() time.Time
}

func NewTransferWorkflow(store models.Store, locker Locker, audit *AuditTrail, logger *logrus.Logger) *TransferWorkflow {
	return &TransferWorkflow{store: store, locker: locker, audit: audit, logger: logger, now: time.Now}
}

type CreateTransferRequest struct {
	SourceSite       string
	DestSite         string
	ItemCode         string
	Quantity         decimal.Decimal
	Annotation       string
	IdempotencyToken string
	Identity         models.Identity
	Source           string
}

type CreateTransferResult struct {
	Request *models.TransferRequest `json:"request"`
	// Shortfall is an early warning: the source held less than requested at creation.
	Shortfall     bool            `json:"shortfall"`
	SourceBalance decimal.Decimal `json:"source_balance"`
	Replayed      bool            `json:"replayed"`
}

type DecideRequest struct {
	ID       string
	Decision models.TransferDecision
	Identity models.Identity
	Source   string
}

func transferLockKey(id string) string {
	return "transfer:" + id
}

func transferEntityRef(id string) string {
	return "transfer:" + id
}

// Create opens a PENDING request on behalf of the source site.
func (w *TransferWorkflow) Create(ctx context.Context, req CreateTransferRequest) (*CreateTransferResult, error) {
	ctx, span := tracer.Start(ctx, "TransferWorkflow.Create")
	defer span.End()

	src := strings.TrimSpace(req.SourceSite)
	dst := strings.TrimSpace(req.DestSite)
	code := strings.TrimSpace(req.ItemCode)
	if err := req.Identity.RequireSite(src, "request a transfer"); err != nil {
		return nil, err
	}
	if dst == "" {
		return nil, &models.FormatError{Field: "dest_site", Reason: "required"}
	}
	if src == dst {
		return nil, &models.FormatError{Field: "dest_site", Input: dst, Reason: "source and destination sites must be different"}
	}
	if code == "" {
		return nil, &models.FormatError{Field: "item_code", Reason: "required"}
	}
	if err := validateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	result := &CreateTransferResult{}
	scope := idempotencyScope(scopeTransferCreate, src)
	err := w.store.RunInTx(ctx, func(tx models.Tx) error {
		ref, found, err := priorResult(tx, scope, req.IdempotencyToken)
		if err != nil {
			return err
		}
		if found {
			t, err := tx.GetTransfer(ref)
			if err != nil {
				return err
			}
			if t.SourceSite != src || t.DestSite != dst || t.ItemCode != code {
				return tokenMismatch(req.IdempotencyToken, src+">"+dst+"|"+code, t.SourceSite+">"+t.DestSite+"|"+t.ItemCode)
			}
			result.Request = t
			result.Replayed = true
			if item, err := tx.GetStockItem(t.SourceSite, t.ItemCode); err == nil {
				result.SourceBalance = item.AvailableQuantity
				result.Shortfall = item.AvailableQuantity.LessThan(t.Quantity)
			}
			return nil
		}

		item, err := getStockItem(tx, src, code)
		if err != nil {
			return err
		}
		t := &models.TransferRequest{
			ID:         uuid.NewString(),
			SourceSite: src,
			DestSite:   dst,
			ItemCode:   code,
			Quantity:   req.Quantity,
			Status:     models.TransferStatusPending,
			Requester:  req.Identity.Actor,
			Annotation: strings.TrimSpace(req.Annotation),
			CreatedAt:  w.now().UTC(),
		}
		if err := tx.InsertTransfer(t); err != nil {
			return err
		}
		result.Request = t
		result.SourceBalance = item.AvailableQuantity
		result.Shortfall = item.AvailableQuantity.LessThan(req.Quantity)
		return rememberResult(tx, scope, req.IdempotencyToken, t.ID, req.Identity.Actor)
	})
	if err != nil {
		return nil, err
	}

	t := result.Request
	if result.Shortfall {
		w.logger.WithFields(logrus.Fields{
			"field":          "TransferWorkflow.Create",
			"transfer_id":    t.ID,
			"source_site":    t.SourceSite,
			"item_code":      t.ItemCode,
			"quantity":       t.Quantity.String(),
			"source_balance": result.SourceBalance.String(),
		}).Info("transfer created above current source balance")
	}
	if result.Replayed && w.audit.Covers(ctx, transferEntityRef(t.ID), t.ID) {
		return result, nil
	}
	_, auditErr := w.audit.Record(ctx, AuditRecord{
		Actor:     t.Requester,
		Action:    models.AuditActionTransferCreate,
		EntityRef: transferEntityRef(t.ID),
		Before:    nil,
		After:     t,
		Source:    sourceOr(req.Source),
	})
	if auditErr != nil {
		return result, auditErr
	}
	return result, nil
}

type balanceSnapshot struct {
	Site              string          `json:"site"`
	ItemCode          string          `json:"item_code"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	TransactionId     string          `json:"transaction_id,omitempty"`
}

// Decide accepts or rejects a PENDING request on behalf of the destination site.
//
// Accepting debits the source, credits the destination and flips the status
// in one transaction. If the source no longer holds enough stock the request
// stays PENDING and *models.InsufficientStockError is returned.
func (w *TransferWorkflow) Decide(ctx context.Context, req DecideRequest) (*models.TransferRequest, error) {
	ctx, span := tracer.Start(ctx, "TransferWorkflow.Decide")
	defer span.End()
	span.SetAttributes(attribute.String("transfer_id", req.ID), attribute.String("decision", string(req.Decision)))

	if req.Decision != models.TransferDecisionAccept && req.Decision != models.TransferDecisionReject {
		return nil, &models.FormatError{Field: "decision", Input: string(req.Decision), Reason: "must be ACCEPT or REJECT"}
	}
	current, err := w.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if err := req.Identity.RequireSite(current.DestSite, "decide a transfer"); err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, &models.AlreadyDecidedError{Key: current.ID, Status: current.Status}
	}

	// request first, then both stock keys in canonical order
	unlock, err := w.locker.Lock(ctx,
		transferLockKey(current.ID),
		stockLockKey(current.SourceSite, current.ItemCode),
		stockLockKey(current.DestSite, current.ItemCode),
	)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		decided       *models.TransferRequest
		before, after map[string]any
	)
	err = w.store.RunInTx(ctx, func(tx models.Tx) error {
		t, err := tx.GetTransfer(current.ID)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return &models.AlreadyDecidedError{Key: t.ID, Status: t.Status}
		}
		now := w.now().UTC()
		decider := req.Identity.Actor

		if req.Decision == models.TransferDecisionReject {
			t.Status = models.TransferStatusRejected
			t.Decider = &decider
			t.DecidedAt = &now
			if err := tx.UpdateTransferDecision(t); err != nil {
				return err
			}
			before = map[string]any{"status": models.TransferStatusPending}
			after = map[string]any{"status": t.Status, "decider": decider}
			decided = t
			return nil
		}

		srcItem, err := getStockItem(tx, t.SourceSite, t.ItemCode)
		if err != nil {
			return err
		}
		if srcItem.AvailableQuantity.LessThan(t.Quantity) {
			return &models.InsufficientStockError{
				Key:       srcItem.Key(),
				Available: srcItem.AvailableQuantity,
				Requested: t.Quantity,
			}
		}
		dstItem, err := tx.GetStockItem(t.DestSite, t.ItemCode)
		if models.IsNotFound(err) {
			// first delivery of this item to the destination
			dstItem = &models.StockItem{
				Site:              t.DestSite,
				ItemCode:          t.ItemCode,
				ItemName:          srcItem.ItemName,
				AvailableQuantity: decimal.Zero,
				UpdatedBy:         decider,
			}
			err = tx.InsertStockItem(dstItem)
		}
		if err != nil {
			return err
		}

		srcBefore := balanceSnapshot{Site: srcItem.Site, ItemCode: srcItem.ItemCode, AvailableQuantity: srcItem.AvailableQuantity}
		dstBefore := balanceSnapshot{Site: dstItem.Site, ItemCode: dstItem.ItemCode, AvailableQuantity: dstItem.AvailableQuantity}
		note := fmt.Sprintf("transfer %s %s -> %s", t.ID, t.SourceSite, t.DestSite)

		outTxn, err := applyMovement(tx, srcItem, movement{
			direction:     models.StockDirectionOut,
			quantity:      t.Quantity,
			annotation:    note,
			actor:         decider,
			referenceType: StockRefTransfer,
			referenceId:   t.ID,
		}, now)
		if err != nil {
			return err
		}
		inTxn, err := applyMovement(tx, dstItem, movement{
			direction:     models.StockDirectionIn,
			quantity:      t.Quantity,
			annotation:    note,
			actor:         decider,
			referenceType: StockRefTransfer,
			referenceId:   t.ID,
		}, now)
		if err != nil {
			return err
		}

		t.Status = models.TransferStatusAccepted
		t.Decider = &decider
		t.DecidedAt = &now
		if err := tx.UpdateTransferDecision(t); err != nil {
			return err
		}

		before = map[string]any{
			"status": models.TransferStatusPending,
			"source": srcBefore,
			"dest":   dstBefore,
		}
		after = map[string]any{
			"status":  t.Status,
			"decider": decider,
			"source":  balanceSnapshot{Site: srcItem.Site, ItemCode: srcItem.ItemCode, AvailableQuantity: outTxn.ResultingBalance, TransactionId: outTxn.ID},
			"dest":    balanceSnapshot{Site: dstItem.Site, ItemCode: dstItem.ItemCode, AvailableQuantity: inTxn.ResultingBalance, TransactionId: inTxn.ID},
		}
		decided = t
		return nil
	})
	if err != nil {
		w.logger.WithFields(logrus.Fields{
			"field":       "TransferWorkflow.Decide",
			"transfer_id": req.ID,
			"decision":    req.Decision,
		}).Debug(err.Error())
		return nil, err
	}

	action := models.AuditActionTransferAccept
	if decided.Status == models.TransferStatusRejected {
		action = models.AuditActionTransferReject
	}
	_, auditErr := w.audit.Record(ctx, AuditRecord{
		Actor:     req.Identity.Actor,
		Action:    action,
		EntityRef: transferEntityRef(decided.ID),
		Before:    before,
		After:     after,
		Source:    sourceOr(req.Source),
	})
	if auditErr != nil {
		return decided, auditErr
	}
	return decided, nil
}

func (w *TransferWorkflow) Get(ctx context.Context, id string) (*models.TransferRequest, error) {
	var t *models.TransferRequest
	err := w.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		t, err = tx.GetTransfer(strings.TrimSpace(id))
		return err
	})
	if models.IsNotFound(err) {
		return nil, fmt.Errorf("transfer %s: %w", id, models.ErrRecordNotFound)
	}
	return t, err
}

func (w *TransferWorkflow) List(ctx context.Context, filter models.TransferFilter) ([]*models.TransferRequest, error) {
	var out []*models.TransferRequest
	err := w.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		out, err = tx.ListTransfers(filter)
		return err
	})
	return out, err
}
