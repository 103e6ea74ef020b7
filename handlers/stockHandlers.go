package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/workflow"
	"github.com/shopspring/decimal"
)

type UpsertItemInput struct {
	ItemCode string `json:"item_code" binding:"required,code"`
	ItemName string `json:"item_name" binding:"required,max=255"`
	// AvailableQuantity sets the balance when present.
	AvailableQuantity *string `json:"available_quantity"`
}

type ApplyInput struct {
	ItemCode         string `json:"item_code" binding:"required,code"`
	Direction        string `json:"direction" binding:"required"`
	Quantity         string `json:"quantity" binding:"required"`
	Annotation       string `json:"annotation" binding:"max=500"`
	IdempotencyToken string `json:"idempotency_token"`
}

type BulkLineInput struct {
	ItemCode string `json:"item_code" binding:"required,code"`
	Quantity string `json:"quantity"`
}

type ApplyBulkInput struct {
	Direction        string          `json:"direction" binding:"required"`
	Lines            []BulkLineInput `json:"lines" binding:"required,min=1,dive"`
	Annotation       string          `json:"annotation" binding:"max=500"`
	IdempotencyToken string          `json:"idempotency_token"`
}

func parseDirection(s string) (models.StockDirection, error) {
	dir, err := models.ParseStockDirection(s)
	if err != nil {
		return "", &models.FormatError{Field: "direction", Input: s, Reason: "expected IN or OUT"}
	}
	return dir, nil
}

func (h *Handler) UpsertItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input UpsertItemInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}
		req := workflow.UpsertItemRequest{
			Site:     c.Param("site"),
			ItemCode: input.ItemCode,
			ItemName: input.ItemName,
			Identity: identityFrom(c),
			Source:   sourceAPI,
		}
		if input.AvailableQuantity != nil {
			qty, err := models.ParseFieldDecimal("available_quantity", *input.AvailableQuantity)
			if err != nil {
				respondError(c, err)
				return
			}
			req.Quantity = &qty
		}
		item, err := h.Stock.UpsertItem(c.Request.Context(), req)
		if item == nil {
			respondError(c, err)
			return
		}
		respondCommitted(c, http.StatusOK, gin.H{"item": item}, err)
	}
}

func (h *Handler) LookupItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := h.Stock.Lookup(c.Request.Context(), c.Param("site"), c.Param("code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": item})
	}
}

func (h *Handler) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := workflow.SearchRequest{
			Site:  c.Param("site"),
			Query: c.Query("q"),
			Mode:  workflow.SearchMode(strings.ToLower(c.DefaultQuery("mode", string(workflow.SearchModeFuzzy)))),
			Limit: limitParam(c, 0),
		}
		if raw := strings.TrimSpace(c.Query("threshold")); raw != "" {
			threshold, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				respondError(c, &models.FormatError{Field: "threshold", Input: raw, Reason: "not a number"})
				return
			}
			req.Threshold = &threshold
		}
		items, err := h.Stock.Search(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func (h *Handler) ApplyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ApplyInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}
		dir, err := parseDirection(input.Direction)
		if err != nil {
			respondError(c, err)
			return
		}
		qty, err := models.ParseFieldDecimal("quantity", input.Quantity)
		if err != nil {
			respondError(c, err)
			return
		}

		req := workflow.ApplyRequest{
			Site:             c.Param("site"),
			ItemCode:         input.ItemCode,
			Direction:        dir,
			Quantity:         qty,
			Annotation:       input.Annotation,
			IdempotencyToken: idempotencyToken(c, input.IdempotencyToken),
			Identity:         identityFrom(c),
			Source:           sourceAPI,
		}
		var result *workflow.ApplyResult
		err = h.retry(c.Request.Context(), func() error {
			var err error
			result, err = h.Stock.Apply(c.Request.Context(), req)
			return err
		})
		if result == nil {
			respondError(c, err)
			return
		}
		respondCommitted(c, http.StatusOK, gin.H{"result": result}, err)
	}
}

// ApplyBulkHandler answers 200 with per-line outcomes; a failing line does not fail the request.
func (h *Handler) ApplyBulkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ApplyBulkInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}
		dir, err := parseDirection(input.Direction)
		if err != nil {
			respondError(c, err)
			return
		}
		lines := make([]workflow.BulkLine, 0, len(input.Lines))
		for _, l := range input.Lines {
			qty := decimal.Zero
			if strings.TrimSpace(l.Quantity) != "" {
				qty, err = models.ParseFieldDecimal("quantity", l.Quantity)
				if err != nil {
					respondError(c, err)
					return
				}
			}
			lines = append(lines, workflow.BulkLine{ItemCode: l.ItemCode, Quantity: qty})
		}

		results := h.Stock.ApplyBulk(c.Request.Context(), workflow.BulkApplyRequest{
			Site:             c.Param("site"),
			Direction:        dir,
			Lines:            lines,
			Annotation:       input.Annotation,
			IdempotencyToken: idempotencyToken(c, input.IdempotencyToken),
			Identity:         identityFrom(c),
			Source:           sourceAPI,
		})
		failed := 0
		for _, r := range results {
			if r.Err != nil && !errors.Is(r.Err, models.ErrAuditGap) {
				failed++
			}
		}
		c.JSON(http.StatusOK, gin.H{"results": results, "failed": failed})
	}
}

func (h *Handler) TransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		txs, err := h.Stock.Transactions(c.Request.Context(), c.Param("site"), c.Query("item_code"), limitParam(c, 100))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs})
	}
}
