package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/voxchat/backend/internal/config"
	"github.com/zhouzirui/voxchat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/voxchat/backend/internal/service/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/history"
)

func newTestRouter() http.Handler {
	store := history.NewMemoryStore()
	responder := &ai.MockResponder{}
	return NewRouter(Deps{
		Server:   config.ServerConfig{IdentityHeader: "X-User-ID", CORSOrigin: "*"},
		Sessions: store,
		Streamer: chatservice.NewOrchestrator(store, responder, nil, chatservice.Options{}),
		Voice:    chatservice.NewVoicePipeline(store, responder, nil),
	})
}

func TestHealthz(t *testing.T) {
	r := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestChatRoutesRequireIdentity(t *testing.T) {
	r := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestStreamThenList(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":"Hello"}`))
	req.Header.Set("X-User-ID", "alice")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"done":true`) {
		t.Fatalf("expected done event, got %q", resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set("X-User-ID", "alice")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var sessions []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || sessions[0]["title"] != "Hello" {
		t.Fatalf("unexpected sessions %v", sessions)
	}
}

func TestCORSPreflightSkipsIdentity(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/stream", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-User-ID") {
		t.Fatalf("identity header not allowed: %q", got)
	}
}
