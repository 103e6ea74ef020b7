package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sekura/tollops_backend/utils"
)

// ReconcileHandler runs the ledger checks for one site, or every site when
// site is empty. Admin only.
func (h *Handler) ReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := identityFrom(c).RequireAdmin("reconcile"); err != nil {
			respondError(c, err)
			return
		}
		report, err := h.Reconciler.Run(c.Request.Context(), strings.TrimSpace(c.Query("site")))
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusOK
		if !report.OK() {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"ok": report.OK(), "report": report})
	}
}

func (h *Handler) AuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := identityFrom(c).RequireAdmin("read audit"); err != nil {
			respondError(c, err)
			return
		}
		ref := strings.TrimSpace(c.Query("entity_ref"))
		entries, err := h.Audit.List(c.Request.Context(), ref, limitParam(c, 100))
		if err != nil {
			respondError(c, err)
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"entries": entries, "correlation_id": cid})
	}
}
