package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
	"github.com/sekura/tollops_backend/workflow"
	"github.com/sirupsen/logrus"
)

const (
	defaultRetries   = 3
	retryBaseBackoff = 50 * time.Millisecond
	sourceAPI        = "api"
)

// Handler exposes the ledgers over HTTP.
type Handler struct {
	Cycles     *workflow.CycleLedger
	Stock      *workflow.StockLedger
	Transfers  *workflow.TransferWorkflow
	Reconciler *workflow.Reconciler
	Audit      *workflow.AuditTrail
	Logger     *logrus.Logger
	// CycleCacheTTL caches GET /cycles responses in redis; zero disables.
	CycleCacheTTL time.Duration
	// Retries bounds in-request retries of persistence and concurrency failures.
	Retries int
}

// New wires every ledger on top of store.
func New(store models.Store, locker workflow.Locker, publisher workflow.AuditPublisher, logger *logrus.Logger) *Handler {
	RegisterValidators()
	audit := workflow.NewAuditTrail(store, publisher, logger)
	return &Handler{
		Cycles:     workflow.NewCycleLedger(store, locker, audit, logger),
		Stock:      workflow.NewStockLedger(store, locker, audit, logger),
		Transfers:  workflow.NewTransferWorkflow(store, locker, audit, logger),
		Reconciler: workflow.NewReconciler(store, logger),
		Audit:      audit,
		Logger:     logger,
		Retries:    defaultRetries,
	}
}

// Register mounts the ledger routes. r must already run the auth middleware.
func (h *Handler) Register(r gin.IRouter) {
	cycles := r.Group("/cycles")
	cycles.GET("/metric-sets", h.MetricSetsHandler())
	cycles.POST("/init", h.InitCycleHandler())
	cycles.GET("/:site", h.InstrumentsHandler())
	cycles.GET("/:site/:instrument", h.GetCycleHandler())
	cycles.POST("/:site/:instrument/close", h.CloseCycleHandler())
	cycles.GET("/:site/:instrument/readings", h.ReadingsHandler())

	stock := r.Group("/stock/:site")
	stock.PUT("/items", h.UpsertItemHandler())
	stock.GET("/items/:code", h.LookupItemHandler())
	stock.GET("/search", h.SearchHandler())
	stock.POST("/apply", h.ApplyHandler())
	stock.POST("/apply-bulk", h.ApplyBulkHandler())
	stock.GET("/transactions", h.TransactionsHandler())

	transfers := r.Group("/transfers")
	transfers.POST("", h.CreateTransferHandler())
	transfers.GET("", h.ListTransfersHandler())
	transfers.GET("/:id", h.GetTransferHandler())
	transfers.POST("/:id/decision", h.DecideTransferHandler())

	r.GET("/internal/ops/reconcile", h.ReconcileHandler())
	r.GET("/audit", h.AuditHandler())
}

func identityFrom(c *gin.Context) models.Identity {
	ctx := c.Request.Context()
	actor, _ := utils.GetActorFromContext(ctx)
	role, _ := utils.GetRoleFromContext(ctx)
	site, _ := utils.GetSiteFromContext(ctx)
	return models.Identity{Actor: actor, Role: models.Role(role), Site: site}
}

// idempotencyToken prefers the body, then the Idempotency-Key header. A request
// without either gets a fresh token so in-request retries cannot apply twice.
func idempotencyToken(c *gin.Context, fromBody string) string {
	if t := strings.TrimSpace(fromBody); t != "" {
		return t
	}
	if t := strings.TrimSpace(c.GetHeader("Idempotency-Key")); t != "" {
		return t
	}
	return uuid.NewString()
}

// retry reruns fn on persistence and concurrency failures. fn must carry a
// stable idempotency token.
func (h *Handler) retry(ctx context.Context, fn func() error) error {
	attempts := h.Retries
	if attempts <= 0 {
		attempts = 1
	}
	return utils.RetryWithBackoff(ctx, attempts, retryBaseBackoff, models.IsRetryable, fn)
}

type errorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind"`
	Field         string `json:"field,omitempty"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrFormat):
		return http.StatusUnprocessableEntity, "format"
	case errors.Is(err, models.ErrInvariantViolation):
		return http.StatusUnprocessableEntity, "invariant_violation"
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "insufficient_stock"
	case errors.Is(err, models.ErrNotInitialized):
		return http.StatusNotFound, "not_initialized"
	case errors.Is(err, models.ErrRecordNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrAlreadyDecided):
		return http.StatusConflict, "already_decided"
	case errors.Is(err, models.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, workflow.ErrLockNotObtained):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, models.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func respondError(c *gin.Context, err error) {
	status, kind := errorKind(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	c.JSON(status, errorResponse{
		Error:         err.Error(),
		Kind:          kind,
		Field:         models.ErrorField(err),
		CorrelationId: cid,
	})
}

func respondBadRequest(c *gin.Context, err error) {
	fields := utils.ProcessValidationErrors(err)
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "kind": "bad_request"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "kind": "bad_request", "fields": fields})
}

// respondCommitted answers a mutation that committed. An audit gap is
// reported as a warning; the mutation stands.
func respondCommitted(c *gin.Context, status int, body gin.H, err error) {
	if err != nil && !errors.Is(err, models.ErrAuditGap) {
		respondError(c, err)
		return
	}
	if err != nil {
		body["warning"] = err.Error()
	}
	c.JSON(status, body)
}

func limitParam(c *gin.Context, def int) int {
	var q struct {
		Limit int `form:"limit" binding:"omitempty,min=0,max=1000"`
	}
	if err := c.ShouldBindQuery(&q); err != nil || q.Limit == 0 {
		return def
	}
	return q.Limit
}
