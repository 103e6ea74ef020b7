package workflow

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sekura/tollops_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// CycleLedger carries opening values forward: each accepted closing becomes the next opening.
type CycleLedger struct {
	store  models.Store
	locker Locker
	audit  *AuditTrail
	logger *logrus.Logger
	now    func() time.Time
}

func NewCycleLedger(store models.Store, locker Locker, audit *AuditTrail, logger *logrus.Logger) *CycleLedger {
	return &CycleLedger{store: store, locker: locker, audit: audit, logger: logger, now: time.Now}
}

type InitRequest struct {
	Site         string
	InstrumentId string
	MetricSet    string
	// Opening holds raw text per metric, e.g. {"rh": "4435:12"}.
	Opening  map[string]string
	Identity models.Identity
	Source   string
}

type CloseRequest struct {
	Site         string
	InstrumentId string
	Closing      map[string]string
	// Inflows are same-cycle additions to consumables, e.g. {"topup": "50"}.
	Inflows          map[string]string
	Extras           map[string]string
	Annotation       string
	ReadingDate      time.Time
	IdempotencyToken string
	Identity         models.Identity
	Source           string
}

func cycleLockKey(site, instrumentId string) string {
	return "cycle:" + models.CycleKey(site, instrumentId)
}

func cycleEntityRef(site, instrumentId string) string {
	return "cycle_state:" + models.CycleKey(site, instrumentId)
}

func sourceOr(source string) string {
	if strings.TrimSpace(source) == "" {
		return "api"
	}
	return source
}

// Initialize seeds or re-seeds the opening values of an instrument. Admin only.
func (l *CycleLedger) Initialize(ctx context.Context, req InitRequest) (*models.CycleState, error) {
	ctx, span := tracer.Start(ctx, "CycleLedger.Initialize")
	defer span.End()

	if err := req.Identity.RequireAdmin("initialize opening values"); err != nil {
		return nil, err
	}
	site := strings.TrimSpace(req.Site)
	instrumentId := strings.TrimSpace(req.InstrumentId)
	if site == "" {
		return nil, &models.FormatError{Field: "site", Reason: "required"}
	}
	if instrumentId == "" {
		return nil, &models.FormatError{Field: "instrument_id", Reason: "required"}
	}
	ms, ok := models.GetMetricSet(req.MetricSet)
	if !ok {
		return nil, &models.FormatError{Field: "metric_set", Input: req.MetricSet, Reason: "unknown metric set"}
	}
	opening, err := ms.ParseValues("opening.", req.Opening)
	if err != nil {
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, cycleLockKey(site, instrumentId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var before *models.CycleState
	var state *models.CycleState
	err = l.store.RunInTx(ctx, func(tx models.Tx) error {
		cur, err := tx.GetCycleState(site, instrumentId)
		if err != nil && !models.IsNotFound(err) {
			return err
		}
		if cur == nil {
			state = &models.CycleState{
				Site:          site,
				InstrumentId:  instrumentId,
				MetricSet:     ms.Code,
				OpeningValues: opening,
				UpdatedBy:     req.Identity.Actor,
			}
			return tx.InsertCycleState(state)
		}
		before = cur.Clone()
		cur.MetricSet = ms.Code
		cur.OpeningValues = opening
		cur.UpdatedBy = req.Identity.Actor
		state = cur
		return tx.UpdateCycleState(cur)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"field":         "CycleLedger.Initialize",
		"site":          site,
		"instrument_id": instrumentId,
		"metric_set":    ms.Code,
		"actor":         req.Identity.Actor,
		"reseed":        before != nil,
	}).Info("opening values initialized")

	var beforeSnap any
	if before != nil {
		beforeSnap = map[string]any{"opening": before.OpeningValues, "version": before.Version}
	}
	_, auditErr := l.audit.Record(ctx, AuditRecord{
		Actor:     req.Identity.Actor,
		Action:    models.AuditActionCycleInit,
		EntityRef: cycleEntityRef(site, instrumentId),
		Before:    beforeSnap,
		After:     map[string]any{"opening": state.OpeningValues, "version": state.Version},
		Source:    sourceOr(req.Source),
	})
	if auditErr != nil {
		return state, auditErr
	}
	return state, nil
}

// Opening returns the current state. A missing state is NotInitializedError, never zero.
func (l *CycleLedger) Opening(ctx context.Context, site, instrumentId string) (*models.CycleState, error) {
	var state *models.CycleState
	err := l.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		state, err = getCycleState(tx, site, instrumentId)
		return err
	})
	return state, err
}

func getCycleState(tx models.Tx, site, instrumentId string) (*models.CycleState, error) {
	state, err := tx.GetCycleState(site, instrumentId)
	if models.IsNotFound(err) {
		return nil, &models.NotInitializedError{Entity: "cycle state", Key: models.CycleKey(site, instrumentId)}
	}
	return state, err
}

// Instruments lists every initialized instrument at a site, ordered by id.
func (l *CycleLedger) Instruments(ctx context.Context, site string) ([]*models.CycleState, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return nil, &models.FormatError{Field: "site", Reason: "required"}
	}
	var out []*models.CycleState
	err := l.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		out, err = tx.ListCycleStates(site)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentId < out[j].InstrumentId })
	return out, nil
}

// History lists accepted readings, newest first.
func (l *CycleLedger) History(ctx context.Context, site, instrumentId string, limit int) ([]*models.ReadingEntry, error) {
	var out []*models.ReadingEntry
	err := l.store.RunInTx(ctx, func(tx models.Tx) error {
		var err error
		out, err = tx.ListReadings(site, instrumentId, limit)
		return err
	})
	return out, err
}

// Close accepts a closing reading: it appends a ReadingEntry and advances the
// opening to the submitted closing in one transaction.
//
// When the audit write fails after commit the entry is returned together with
// a *models.AuditGapError.
func (l *CycleLedger) Close(ctx context.Context, req CloseRequest) (*models.ReadingEntry, error) {
	ctx, span := tracer.Start(ctx, "CycleLedger.Close")
	defer span.End()
	span.SetAttributes(attribute.String("site", req.Site), attribute.String("instrument_id", req.InstrumentId))

	if err := req.Identity.RequireSite(req.Site, "close readings"); err != nil {
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, cycleLockKey(req.Site, req.InstrumentId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		entry    *models.ReadingEntry
		replayed bool
	)
	scope := idempotencyScope(scopeCycleClose, req.Site, req.InstrumentId)
	err = l.store.RunInTx(ctx, func(tx models.Tx) error {
		ref, found, err := priorResult(tx, scope, req.IdempotencyToken)
		if err != nil {
			return err
		}
		if found {
			entry, err = tx.GetReading(ref)
			if err != nil {
				return err
			}
			if entry.Site != req.Site || entry.InstrumentId != req.InstrumentId {
				return tokenMismatch(req.IdempotencyToken, req.Site+"|"+req.InstrumentId, entry.Site+"|"+entry.InstrumentId)
			}
			replayed = true
			return nil
		}

		state, err := getCycleState(tx, req.Site, req.InstrumentId)
		if err != nil {
			return err
		}
		entry, err = l.computeReading(state, req)
		if err != nil {
			return err
		}
		entry.Sequence = state.Version + 1
		if err := tx.InsertReading(entry); err != nil {
			return err
		}
		state.OpeningValues = entry.ClosingValues.Clone()
		state.UpdatedBy = req.Identity.Actor
		if err := tx.UpdateCycleState(state); err != nil {
			return err
		}
		return rememberResult(tx, scope, req.IdempotencyToken, entry.ID, req.Identity.Actor)
	})
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"field":         "CycleLedger.Close",
			"site":          req.Site,
			"instrument_id": req.InstrumentId,
			"error_field":   models.ErrorField(err),
		}).Debug(err.Error())
		return nil, err
	}
	entityRef := cycleEntityRef(req.Site, req.InstrumentId)
	if replayed && l.audit.Covers(ctx, entityRef, entry.ID) {
		return entry, nil
	}

	_, auditErr := l.audit.Record(ctx, AuditRecord{
		Actor:     entry.Actor,
		Action:    models.AuditActionCycleClose,
		EntityRef: entityRef,
		Before:    map[string]any{"opening": entry.OpeningValues},
		After:     map[string]any{"opening": entry.ClosingValues, "reading_id": entry.ID, "sequence": entry.Sequence},
		Source:    sourceOr(req.Source),
	})
	if auditErr != nil {
		return entry, auditErr
	}
	return entry, nil
}

// computeReading validates closing values against the state and derives nets.
// It does not touch the store.
func (l *CycleLedger) computeReading(state *models.CycleState, req CloseRequest) (*models.ReadingEntry, error) {
	ms, ok := models.GetMetricSet(state.MetricSet)
	if !ok {
		return nil, &models.NotInitializedError{Entity: "metric set", Key: state.MetricSet}
	}
	closing, err := ms.ParseValues("closing.", req.Closing)
	if err != nil {
		return nil, err
	}
	inflows, err := ms.ParseInflows(req.Inflows)
	if err != nil {
		return nil, err
	}
	extras, err := ms.ParseExtras(req.Extras)
	if err != nil {
		return nil, err
	}
	annotation, err := ms.NormalizeAnnotation(req.Annotation)
	if err != nil {
		return nil, err
	}

	net := models.MetricValues{}
	consumed := models.MetricValues{}
	for _, m := range ms.Metrics {
		open, ok := state.OpeningValues[m.Name]
		if !ok {
			return nil, &models.NotInitializedError{Entity: "opening value", Key: state.Key() + "|" + m.Name}
		}
		closeV := closing[m.Name]
		field := "closing." + m.Name
		switch m.Kind {
		case models.MetricKindConsumable:
			inflow := inflows[m.Inflow]
			ceiling := open.Add(inflow)
			if closeV.GreaterThan(ceiling) {
				return nil, &models.InvariantViolationError{
					Field:   field,
					Opening: open,
					Closing: closeV,
					Reason:  "closing cannot exceed opening + " + m.Inflow + " (" + ceiling.String() + ")",
				}
			}
			consumed[m.Name] = ceiling.Sub(closeV)
		default:
			if closeV.LessThan(open) {
				return nil, &models.InvariantViolationError{
					Field:   field,
					Opening: open,
					Closing: closeV,
					Reason:  "closing must be >= opening",
				}
			}
		}
		net[m.Name] = closeV.Sub(open)
	}

	readingDate := req.ReadingDate
	if readingDate.IsZero() {
		readingDate = l.now()
	}
	y, mo, d := readingDate.Date()
	return &models.ReadingEntry{
		ID:               uuid.NewString(),
		ReadingDate:      time.Date(y, mo, d, 0, 0, 0, 0, time.UTC),
		Site:             state.Site,
		InstrumentId:     state.InstrumentId,
		MetricSet:        ms.Code,
		OpeningValues:    state.OpeningValues.Clone(),
		ClosingValues:    closing,
		NetValues:        net,
		InflowValues:     inflows,
		ConsumedValues:   consumed,
		ExtraValues:      extras,
		Annotation:       annotation,
		Actor:            req.Identity.Actor,
		IdempotencyToken: strings.TrimSpace(req.IdempotencyToken),
		CreatedAt:        l.now().UTC(),
	}, nil
}

// FormatValues renders values the way operators type them (H:MM for durations).
func FormatValues(metricSet string, values models.MetricValues) map[string]string {
	ms, _ := models.GetMetricSet(metricSet)
	out := make(map[string]string, len(values))
	for name, v := range values {
		kind := models.MetricKindCounter
		if m, ok := ms.Metric(name); ok {
			kind = m.Kind
		}
		out[name] = models.FormatMetricValue(kind, v)
	}
	return out
}

func FormatReading(entry *models.ReadingEntry) map[string]map[string]string {
	return map[string]map[string]string{
		"opening":  FormatValues(entry.MetricSet, entry.OpeningValues),
		"closing":  FormatValues(entry.MetricSet, entry.ClosingValues),
		"net":      FormatValues(entry.MetricSet, entry.NetValues),
		"consumed": FormatValues(entry.MetricSet, entry.ConsumedValues),
	}
}
