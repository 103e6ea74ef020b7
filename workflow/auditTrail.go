package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sekura/tollops_backend/config"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
	"github.com/sirupsen/logrus"
)

// AuditPublisher fans committed audit entries out to downstream consumers.
type AuditPublisher interface {
	PublishAudit(ctx context.Context, entry *models.AuditEntry) error
}

type AuditTrail struct {
	store     models.Store
	publisher AuditPublisher
	logger    *logrus.Logger
	now       func() time.Time
}

func NewAuditTrail(store models.Store, publisher AuditPublisher, logger *logrus.Logger) *AuditTrail {
	return &AuditTrail{store: store, publisher: publisher, logger: logger, now: time.Now}
}

type AuditRecord struct {
	Actor     string
	Action    models.AuditAction
	EntityRef string
	Before    any
	After     any
	Source    string
}

// Record appends an entry for a mutation that has already committed.
// On failure it logs the gap and returns *models.AuditGapError; the mutation stands.
func (a *AuditTrail) Record(ctx context.Context, rec AuditRecord) (*models.AuditEntry, error) {
	b, _ := json.Marshal(rec.Before)
	af, _ := json.Marshal(rec.After)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	entry := &models.AuditEntry{
		ID:            uuid.NewString(),
		Actor:         rec.Actor,
		Action:        rec.Action,
		EntityRef:     rec.EntityRef,
		Before:        string(b),
		After:         string(af),
		Source:        rec.Source,
		CorrelationId: cid,
		CreatedAt:     a.now().UTC(),
	}

	err := a.store.RunInTx(ctx, func(tx models.Tx) error {
		return tx.InsertAudit(entry)
	})
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"field":          "AuditTrail.Record",
			"action":         rec.Action,
			"entity_ref":     rec.EntityRef,
			"actor":          rec.Actor,
			"correlation_id": cid,
			"before":         entry.Before,
			"after":          entry.After,
		}).Warn("audit gap: mutation committed but audit entry was not written: " + err.Error())
		return nil, &models.AuditGapError{EntityRef: rec.EntityRef, Err: err}
	}

	if a.publisher != nil {
		if perr := a.publisher.PublishAudit(ctx, entry); perr != nil {
			config.LogError(a.logger, "auditTrail.go", "Record", "publish audit entry", entry.ID, perr)
		}
	}
	return entry, nil
}

// Covers reports whether an entry for entityRef already mentions marker, e.g. a
// reading id. A replayed submission whose first attempt lost its audit write
// uses it to fill the gap instead of writing a duplicate. Every entry of the
// entity is searched, however old.
func (a *AuditTrail) Covers(ctx context.Context, entityRef, marker string) bool {
	var found bool
	err := a.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		found, err = tx.AuditMentions(entityRef, marker)
		return err
	})
	if err != nil {
		config.LogError(a.logger, "auditTrail.go", "Covers", "search audit", entityRef, err)
		return false
	}
	return found
}

func (a *AuditTrail) List(ctx context.Context, entityRef string, limit int) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	err := a.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		out, err = tx.ListAudit(entityRef, limit)
		return err
	})
	return out, err
}

// PubSubAuditPublisher publishes audit entries to a Pub/Sub topic.
type PubSubAuditPublisher struct {
	Topic string
}

func (p PubSubAuditPublisher) PublishAudit(ctx context.Context, entry *models.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := config.PublishLedgerEvent(ctx, p.Topic, config.LedgerEvent{
		ID:            entry.ID,
		Actor:         entry.Actor,
		Action:        string(entry.Action),
		EntityRef:     entry.EntityRef,
		Before:        json.RawMessage(entry.Before),
		After:         json.RawMessage(entry.After),
		Source:        entry.Source,
		CorrelationId: entry.CorrelationId,
		OccurredAt:    entry.CreatedAt,
	})
	return err
}
