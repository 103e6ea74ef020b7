package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sekura/tollops_backend/config"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
	"github.com/sekura/tollops_backend/workflow"
)

type InitCycleRequest struct {
	Site         string            `json:"site" binding:"required,code"`
	InstrumentId string            `json:"instrument_id" binding:"required,code"`
	MetricSet    string            `json:"metric_set" binding:"required"`
	Opening      map[string]string `json:"opening" binding:"required"`
}

type CloseCycleRequest struct {
	Closing          map[string]string `json:"closing" binding:"required"`
	Inflows          map[string]string `json:"inflows"`
	Extras           map[string]string `json:"extras"`
	Annotation       string            `json:"annotation"`
	ReadingDate      string            `json:"reading_date"`
	IdempotencyToken string            `json:"idempotency_token"`
}

type CycleResponse struct {
	State   *models.CycleState `json:"state"`
	Opening map[string]string  `json:"opening"`
}

func cycleResponse(state *models.CycleState) CycleResponse {
	return CycleResponse{State: state, Opening: workflow.FormatValues(state.MetricSet, state.OpeningValues)}
}

func (h *Handler) invalidateCycle(site, instrumentId string) {
	if err := utils.RemoveCachedCycle(site, instrumentId); err != nil {
		config.LogError(h.Logger, "cycleHandlers.go", "invalidateCycle", "remove cached cycle", site+"|"+instrumentId, err)
	}
}

func (h *Handler) MetricSetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sets := make([]models.MetricSet, 0)
		for _, code := range models.MetricSetCodes() {
			ms, _ := models.GetMetricSet(code)
			sets = append(sets, ms)
		}
		c.JSON(http.StatusOK, gin.H{"metric_sets": sets})
	}
}

func (h *Handler) InitCycleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InitCycleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return
		}
		state, err := h.Cycles.Initialize(c.Request.Context(), workflow.InitRequest{
			Site:         req.Site,
			InstrumentId: req.InstrumentId,
			MetricSet:    req.MetricSet,
			Opening:      req.Opening,
			Identity:     identityFrom(c),
			Source:       sourceAPI,
		})
		if state != nil {
			h.invalidateCycle(state.Site, state.InstrumentId)
		}
		if state == nil && err != nil {
			respondError(c, err)
			return
		}
		resp := cycleResponse(state)
		respondCommitted(c, http.StatusOK, gin.H{"state": resp.State, "opening": resp.Opening}, err)
	}
}

func (h *Handler) InstrumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		states, err := h.Cycles.Instruments(c.Request.Context(), c.Param("site"))
		if err != nil {
			respondError(c, err)
			return
		}
		out := make([]CycleResponse, 0, len(states))
		for _, st := range states {
			out = append(out, cycleResponse(st))
		}
		c.JSON(http.StatusOK, gin.H{"instruments": out})
	}
}

func (h *Handler) GetCycleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		site, instrumentId := c.Param("site"), c.Param("instrument")
		if h.CycleCacheTTL > 0 {
			cached, err := utils.RetrieveCachedCycle[CycleResponse](site, instrumentId)
			if err != nil {
				config.LogError(h.Logger, "cycleHandlers.go", "GetCycleHandler", "retrieve cached cycle", site+"|"+instrumentId, err)
			} else if cached != nil {
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		state, err := h.Cycles.Opening(c.Request.Context(), site, instrumentId)
		if err != nil {
			respondError(c, err)
			return
		}
		resp := cycleResponse(state)
		if err := utils.StoreCachedCycle(site, instrumentId, resp, h.CycleCacheTTL); err != nil {
			config.LogError(h.Logger, "cycleHandlers.go", "GetCycleHandler", "store cached cycle", site+"|"+instrumentId, err)
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (h *Handler) CloseCycleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		site, instrumentId := c.Param("site"), c.Param("instrument")
		var req CloseCycleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return
		}
		var readingDate time.Time
		if d := strings.TrimSpace(req.ReadingDate); d != "" {
			parsed, err := time.Parse("2006-01-02", d)
			if err != nil {
				respondError(c, &models.FormatError{Field: "reading_date", Input: d, Reason: "expected YYYY-MM-DD"})
				return
			}
			readingDate = parsed
		}

		closeReq := workflow.CloseRequest{
			Site:             site,
			InstrumentId:     instrumentId,
			Closing:          req.Closing,
			Inflows:          req.Inflows,
			Extras:           req.Extras,
			Annotation:       req.Annotation,
			ReadingDate:      readingDate,
			IdempotencyToken: idempotencyToken(c, req.IdempotencyToken),
			Identity:         identityFrom(c),
			Source:           sourceAPI,
		}
		var entry *models.ReadingEntry
		err := h.retry(c.Request.Context(), func() error {
			var err error
			entry, err = h.Cycles.Close(c.Request.Context(), closeReq)
			return err
		})
		if entry == nil {
			respondError(c, err)
			return
		}
		h.invalidateCycle(site, instrumentId)
		respondCommitted(c, http.StatusOK, gin.H{
			"reading":   entry,
			"formatted": workflow.FormatReading(entry),
		}, err)
	}
}

func (h *Handler) ReadingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.Cycles.History(c.Request.Context(), c.Param("site"), c.Param("instrument"), limitParam(c, 50))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"readings": entries})
	}
}
