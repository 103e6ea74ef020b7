package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/workflow"
)

type CreateTransferInput struct {
	SourceSite       string `json:"source_site" binding:"required,code"`
	DestSite         string `json:"dest_site" binding:"required,code"`
	ItemCode         string `json:"item_code" binding:"required,code"`
	Quantity         string `json:"quantity" binding:"required"`
	Annotation       string `json:"annotation" binding:"max=500"`
	IdempotencyToken string `json:"idempotency_token"`
}

type DecisionInput struct {
	Decision string `json:"decision" binding:"required"`
}

func (h *Handler) CreateTransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input CreateTransferInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}
		qty, err := models.ParseFieldDecimal("quantity", input.Quantity)
		if err != nil {
			respondError(c, err)
			return
		}

		req := workflow.CreateTransferRequest{
			SourceSite:       input.SourceSite,
			DestSite:         input.DestSite,
			ItemCode:         input.ItemCode,
			Quantity:         qty,
			Annotation:       input.Annotation,
			IdempotencyToken: idempotencyToken(c, input.IdempotencyToken),
			Identity:         identityFrom(c),
			Source:           sourceAPI,
		}
		var result *workflow.CreateTransferResult
		err = h.retry(c.Request.Context(), func() error {
			var err error
			result, err = h.Transfers.Create(c.Request.Context(), req)
			return err
		})
		if result == nil {
			respondError(c, err)
			return
		}
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		respondCommitted(c, status, gin.H{"transfer": result}, err)
	}
}

func (h *Handler) ListTransfersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.TransferFilter{
			Site:  strings.TrimSpace(c.Query("site")),
			Limit: limitParam(c, 100),
		}
		if filter.Site != "" && !validCode(filter.Site) {
			respondError(c, &models.FormatError{Field: "site", Input: filter.Site, Reason: "invalid site code"})
			return
		}
		if raw := strings.TrimSpace(c.Query("status")); raw != "" {
			filter.Status = models.TransferStatus(strings.ToUpper(raw))
			if !filter.Status.IsValid() {
				respondError(c, &models.FormatError{Field: "status", Input: raw, Reason: "expected PENDING, ACCEPTED or REJECTED"})
				return
			}
		}
		transfers, err := h.Transfers.List(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transfers": transfers})
	}
}

func (h *Handler) GetTransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := h.Transfers.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transfer": t})
	}
}

// DecideTransferHandler is not retried: a second attempt after a lost
// commit would answer already_decided.
func (h *Handler) DecideTransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input DecisionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}
		decision, err := models.ParseTransferDecision(input.Decision)
		if err != nil {
			respondError(c, &models.FormatError{Field: "decision", Input: input.Decision, Reason: "expected ACCEPT or REJECT"})
			return
		}
		t, err := h.Transfers.Decide(c.Request.Context(), workflow.DecideRequest{
			ID:       c.Param("id"),
			Decision: decision,
			Identity: identityFrom(c),
			Source:   sourceAPI,
		})
		if t == nil {
			respondError(c, err)
			return
		}
		respondCommitted(c, http.StatusOK, gin.H{"transfer": t}, err)
	}
}
