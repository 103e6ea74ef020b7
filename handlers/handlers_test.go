package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sekura/tollops_backend/middlewares"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
	"github.com/sekura/tollops_backend/workflow"
	"github.com/sirupsen/logrus"
)

type testServer struct {
	router  *gin.Engine
	admin   string
	op01    string
	op02    string
	handler *Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := New(models.NewMemoryStore(), workflow.NewLocalLocker(), nil, logger)
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	api := r.Group("/")
	api.Use(middlewares.AuthMiddleware())
	h.Register(api)

	return &testServer{
		router:  r,
		handler: h,
		admin:   token(t, "admin@hq", "admin", ""),
		op01:    token(t, "op1@tp01", "operator", "TP01"),
		op02:    token(t, "op2@tp02", "operator", "TP02"),
	}
}

func token(t *testing.T, actor, role, site string) string {
	t.Helper()
	tok, err := utils.JwtGenerate(actor, role, site)
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (s *testServer) initDG(t *testing.T) {
	t.Helper()
	w, body := s.do(t, http.MethodPost, "/cycles/init", s.admin, gin.H{
		"site":          "TP01",
		"instrument_id": "DG1",
		"metric_set":    "DG",
		"opening":       gin.H{"diesel": "120", "kwh": "10500", "rh": "4435:12"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("init: %d %v", w.Code, body)
	}
}

func (s *testServer) seedItem(t *testing.T, site, code, qty string) {
	t.Helper()
	w, body := s.do(t, http.MethodPut, "/stock/"+site+"/items", s.admin, gin.H{
		"item_code":          code,
		"item_name":          "Traffic Cone",
		"available_quantity": qty,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("seed %s/%s: %d %v", site, code, w.Code, body)
	}
}

func TestCloseCycleHandler_FormatsNetRunHours(t *testing.T) {
	s := newTestServer(t)
	s.initDG(t)

	w, body := s.do(t, http.MethodPost, "/cycles/TP01/DG1/close", s.op01, gin.H{
		"closing":      gin.H{"diesel": "150", "kwh": "10620", "rh": "4436:42"},
		"inflows":      gin.H{"topup": "50"},
		"reading_date": "2026-03-04",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d %v", w.Code, body)
	}
	formatted, _ := body["formatted"].(map[string]any)
	net, _ := formatted["net"].(map[string]any)
	if net["rh"] != "1:30" {
		t.Fatalf("expected net rh 1:30, got %v", net["rh"])
	}
	if _, ok := body["warning"]; ok {
		t.Fatalf("unexpected warning %v", body["warning"])
	}

	w, body = s.do(t, http.MethodGet, "/cycles/TP01/DG1", s.op01, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d %v", w.Code, body)
	}
	opening, _ := body["opening"].(map[string]any)
	if opening["rh"] != "4436:42" {
		t.Fatalf("expected opening rh 4436:42, got %v", opening["rh"])
	}
}

func TestHandlers_StatusMapping(t *testing.T) {
	s := newTestServer(t)
	s.initDG(t)
	s.seedItem(t, "TP01", "CONE", "5")

	tests := []struct {
		name   string
		method string
		path   string
		tok    string
		body   any
		status int
		kind   string
	}{
		{
			name: "no token", method: http.MethodGet, path: "/cycles/TP01/DG1",
			status: http.StatusUnauthorized,
		},
		{
			name: "garbage token", method: http.MethodGet, path: "/cycles/TP01/DG1", tok: "abc.def.ghi",
			status: http.StatusUnauthorized,
		},
		{
			name: "not initialized", method: http.MethodGet, path: "/cycles/TP01/DG9", tok: s.op01,
			status: http.StatusNotFound, kind: "not_initialized",
		},
		{
			name: "close without closing map", method: http.MethodPost, path: "/cycles/TP01/DG1/close", tok: s.op01,
			body: gin.H{"annotation": "x"}, status: http.StatusBadRequest, kind: "bad_request",
		},
		{
			name: "diesel rises without topup", method: http.MethodPost, path: "/cycles/TP01/DG1/close", tok: s.op01,
			body:   gin.H{"closing": gin.H{"diesel": "130", "kwh": "10600", "rh": "4436:00"}},
			status: http.StatusUnprocessableEntity, kind: "invariant_violation",
		},
		{
			name: "bad reading date", method: http.MethodPost, path: "/cycles/TP01/DG1/close", tok: s.op01,
			body:   gin.H{"closing": gin.H{"diesel": "100", "kwh": "10600", "rh": "4436:00"}, "reading_date": "04/03/2026"},
			status: http.StatusUnprocessableEntity, kind: "format",
		},
		{
			name: "operator closes other site", method: http.MethodPost, path: "/cycles/TP01/DG1/close", tok: s.op02,
			body:   gin.H{"closing": gin.H{"diesel": "100", "kwh": "10600", "rh": "4436:00"}},
			status: http.StatusForbidden, kind: "forbidden",
		},
		{
			name: "operator initializes", method: http.MethodPost, path: "/cycles/init", tok: s.op01,
			body:   gin.H{"site": "TP01", "instrument_id": "DG2", "metric_set": "DG", "opening": gin.H{"diesel": "1", "kwh": "1", "rh": "0:00"}},
			status: http.StatusForbidden, kind: "forbidden",
		},
		{
			name: "stock out above balance", method: http.MethodPost, path: "/stock/TP01/apply", tok: s.op01,
			body:   gin.H{"item_code": "CONE", "direction": "OUT", "quantity": "6"},
			status: http.StatusUnprocessableEntity, kind: "insufficient_stock",
		},
		{
			name: "bad direction", method: http.MethodPost, path: "/stock/TP01/apply", tok: s.op01,
			body:   gin.H{"item_code": "CONE", "direction": "SIDEWAYS", "quantity": "1"},
			status: http.StatusUnprocessableEntity, kind: "format",
		},
		{
			name: "bad item code", method: http.MethodPost, path: "/stock/TP01/apply", tok: s.op01,
			body:   gin.H{"item_code": "co ne", "direction": "IN", "quantity": "1"},
			status: http.StatusBadRequest, kind: "bad_request",
		},
		{
			name: "unknown item", method: http.MethodGet, path: "/stock/TP01/items/NOPE", tok: s.op01,
			status: http.StatusNotFound, kind: "not_initialized",
		},
		{
			name: "unknown transfer", method: http.MethodGet, path: "/transfers/does-not-exist", tok: s.op01,
			status: http.StatusNotFound, kind: "not_found",
		},
		{
			name: "bad transfer status filter", method: http.MethodGet, path: "/transfers?status=LOST", tok: s.op01,
			status: http.StatusUnprocessableEntity, kind: "format",
		},
		{
			name: "operator reconciles", method: http.MethodGet, path: "/internal/ops/reconcile", tok: s.op01,
			status: http.StatusForbidden, kind: "forbidden",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, body := s.do(t, tc.method, tc.path, tc.tok, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d %v", tc.status, w.Code, body)
			}
			if tc.kind != "" && body["kind"] != tc.kind {
				t.Fatalf("expected kind %s, got %v", tc.kind, body["kind"])
			}
		})
	}

	// none of the rejected requests moved anything
	w, body := s.do(t, http.MethodGet, "/stock/TP01/items/CONE", s.op01, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("lookup: %d %v", w.Code, body)
	}
	item, _ := body["item"].(map[string]any)
	if item["available_quantity"] != "5" {
		t.Fatalf("expected balance 5, got %v", item["available_quantity"])
	}
}

func TestApplyHandler_IdempotencyKeyReplays(t *testing.T) {
	s := newTestServer(t)
	s.seedItem(t, "TP01", "CONE", "5")

	req := gin.H{"item_code": "CONE", "direction": "Stock Out", "quantity": "2"}
	for i := 0; i < 2; i++ {
		w, body := s.do(t, http.MethodPost, "/stock/TP01/apply", s.op01, req, "Idempotency-Key", "form-42")
		if w.Code != http.StatusOK {
			t.Fatalf("apply %d: %d %v", i, w.Code, body)
		}
		result, _ := body["result"].(map[string]any)
		if result["new_balance"] != "3" {
			t.Fatalf("apply %d: expected balance 3, got %v", i, result["new_balance"])
		}
		if replayed := result["replayed"] == true; replayed != (i == 1) {
			t.Fatalf("apply %d: replayed=%v", i, result["replayed"])
		}
	}

	w, body := s.do(t, http.MethodGet, "/stock/TP01/transactions?item_code=CONE", s.op01, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transactions: %d %v", w.Code, body)
	}
	// seed plus one OUT
	if txs, _ := body["transactions"].([]any); len(txs) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(txs))
	}
}

func TestApplyBulkHandler_ReportsPerLine(t *testing.T) {
	s := newTestServer(t)
	s.seedItem(t, "TP01", "CONE", "5")
	s.seedItem(t, "TP01", "LAMP", "1")

	w, body := s.do(t, http.MethodPost, "/stock/TP01/apply-bulk", s.op01, gin.H{
		"direction": "OUT",
		"lines": []gin.H{
			{"item_code": "CONE", "quantity": "2"},
			{"item_code": "LAMP", "quantity": "3"},
			{"item_code": "CONE", "quantity": ""},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("bulk: %d %v", w.Code, body)
	}
	if body["failed"] != float64(1) {
		t.Fatalf("expected 1 failed line, got %v", body["failed"])
	}
	results, _ := body["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("expected 3 line results, got %d", len(results))
	}
	if skipped, _ := results[2].(map[string]any)["skipped"].(bool); !skipped {
		t.Fatalf("expected empty quantity line to be skipped: %v", results[2])
	}
}

func TestTransferHandlers_SecondDecisionConflicts(t *testing.T) {
	s := newTestServer(t)
	s.seedItem(t, "TP01", "CONE", "30")

	w, body := s.do(t, http.MethodPost, "/transfers", s.op01, gin.H{
		"source_site": "TP01",
		"dest_site":   "TP02",
		"item_code":   "CONE",
		"quantity":    "12",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %v", w.Code, body)
	}
	created, _ := body["transfer"].(map[string]any)
	request, _ := created["request"].(map[string]any)
	id, _ := request["id"].(string)
	if id == "" || request["status"] != "PENDING" {
		t.Fatalf("unexpected transfer %v", request)
	}

	w, body = s.do(t, http.MethodPost, "/transfers/"+id+"/decision", s.op01, gin.H{"decision": "accept"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("source operator decided: %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodPost, "/transfers/"+id+"/decision", s.op02, gin.H{"decision": "accept"})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d %v", w.Code, body)
	}
	decided, _ := body["transfer"].(map[string]any)
	if decided["status"] != "ACCEPTED" {
		t.Fatalf("expected ACCEPTED, got %v", decided["status"])
	}

	w, body = s.do(t, http.MethodPost, "/transfers/"+id+"/decision", s.op02, gin.H{"decision": "reject"})
	if w.Code != http.StatusConflict || body["kind"] != "already_decided" {
		t.Fatalf("second decision: %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodGet, "/stock/TP02/items/CONE", s.op02, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dest lookup: %d %v", w.Code, body)
	}
	item, _ := body["item"].(map[string]any)
	if item["available_quantity"] != "12" {
		t.Fatalf("expected 12 at destination, got %v", item["available_quantity"])
	}

	w, body = s.do(t, http.MethodGet, "/transfers?site=TP02&status=accepted", s.op02, nil)
	if list, _ := body["transfers"].([]any); w.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodGet, "/internal/ops/reconcile", s.admin, nil)
	if w.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("reconcile: %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodGet, "/audit?entity_ref=transfer:"+id, s.admin, nil)
	if entries, _ := body["entries"].([]any); w.Code != http.StatusOK || len(entries) != 2 {
		t.Fatalf("expected create and accept audit entries: %d %v", w.Code, body)
	}
}

func TestSearchHandler(t *testing.T) {
	s := newTestServer(t)
	s.seedItem(t, "TP01", "CONE", "5")

	w, body := s.do(t, http.MethodGet, "/stock/TP01/search?q=trafic%20cone", s.op01, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %v", w.Code, body)
	}
	if items, _ := body["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one fuzzy match, got %v", body["items"])
	}

	w, body = s.do(t, http.MethodGet, "/stock/TP01/search?q=cone&threshold=high", s.op01, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad threshold: %d %v", w.Code, body)
	}
}

func TestInstrumentsHandler_ListsSite(t *testing.T) {
	s := newTestServer(t)
	s.initDG(t)
	w, body := s.do(t, http.MethodPost, "/cycles/init", s.admin, gin.H{
		"site":          "TP01",
		"instrument_id": "EB1",
		"metric_set":    "EB",
		"opening":       gin.H{"kwh": "0", "kvah": "0"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("init EB1: %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodGet, "/cycles/TP01", s.op01, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %v", w.Code, body)
	}
	list, _ := body["instruments"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected 2 instruments, got %v", body["instruments"])
	}
	first, _ := list[0].(map[string]any)
	state, _ := first["state"].(map[string]any)
	if state["instrument_id"] != "DG1" {
		t.Fatalf("expected DG1 first, got %v", state["instrument_id"])
	}
	opening, _ := first["opening"].(map[string]any)
	if opening["rh"] != "4435:12" {
		t.Fatalf("expected formatted rh opening, got %v", opening["rh"])
	}

	w, body = s.do(t, http.MethodGet, "/cycles/TP02", s.op02, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list TP02: %d %v", w.Code, body)
	}
	if list, _ := body["instruments"].([]any); len(list) != 0 {
		t.Fatalf("expected no TP02 instruments, got %v", list)
	}

	// metric-sets stays a static route beside /:site.
	w, _ = s.do(t, http.MethodGet, "/cycles/metric-sets", s.op01, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metric-sets: %d", w.Code)
	}
}
