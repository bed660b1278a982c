package httpapi

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callkit/internal/calling"
	"callkit/internal/rtc"
	"callkit/internal/signaling"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *calling.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := signaling.NewHub()
	orch := calling.New(calling.Config{Account: "alice", UID: "uid-alice"},
		hub.Peer("alice"), rtc.NewMemoryEngine(), nil, nil, nil, slog.Default())

	h := Handlers{Orch: orch}
	r := gin.New()
	r.POST("/v1/calls", h.StartCall)
	r.POST("/v1/calls/group", h.StartGroupCall)
	r.POST("/v1/calls/hangup", h.Hangup)
	r.POST("/v1/calls/switch-type", h.SwitchCallType)
	r.GET("/v1/session", h.GetSession)
	r.GET("/v1/devices", h.ListDevices)
	return r, orch
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartCallReturnsSnapshot(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/calls", `{"callee":"bob","call_type":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"status":"calling"`) {
		t.Fatalf("expected a calling snapshot, got %s", w.Body.String())
	}
}

func TestStartCallWhileBusyConflicts(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := doJSON(t, r, http.MethodPost, "/v1/calls", `{"callee":"bob","call_type":1}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/v1/calls", `{"callee":"carol","call_type":1}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestStartCallValidatesInput(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := doJSON(t, r, http.MethodPost, "/v1/calls", `{"callee":"","call_type":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty callee, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/v1/calls", `{"callee":"bob","call_type":9}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad call type, got %d", w.Code)
	}
}

func TestHangupWithoutCallConflicts(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := doJSON(t, r, http.MethodPost, "/v1/calls/hangup", `{}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSwitchTypeRejectsUpgrade(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := doJSON(t, r, http.MethodPost, "/v1/calls", `{"callee":"bob","call_type":1}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/v1/calls/switch-type", `{"call_type":2}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetSessionStartsIdle(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"idle"`) {
		t.Fatalf("expected idle snapshot, got %s", w.Body.String())
	}
}

func TestListDevices(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
