package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/jhyang-dev/reverie/backend/internal/middleware"
	chatmodel "github.com/jhyang-dev/reverie/backend/internal/model/chat"
	"github.com/jhyang-dev/reverie/backend/internal/model/persona"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
	"github.com/jhyang-dev/reverie/backend/internal/provider"
	"github.com/jhyang-dev/reverie/backend/internal/service/billing"
	chatservice "github.com/jhyang-dev/reverie/backend/internal/service/chat"
	"github.com/jhyang-dev/reverie/backend/internal/store"
)

type stubAdapter struct {
	reply string
	err   error
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Invoke(context.Context, []provider.Message, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type frame struct {
	Content          string   `json:"content"`
	Done             bool     `json:"done"`
	Tokens           int      `json:"tokens"`
	Cost             int      `json:"cost"`
	SuggestedActions []string `json:"suggested_actions"`
	Error            string   `json:"error"`
	Code             string   `json:"code"`
}

func setupRouter(t *testing.T) (*chi.Mux, *stubAdapter, *billing.MemoryLedger) {
	t.Helper()

	adapter := &stubAdapter{reply: "*nods* The stars are out tonight. What kept you up?"}
	registry := provider.NewRegistry("gpt-4o")
	registry.Register(adapter)
	registry.Route("gpt-4o", "stub", "stub-model")

	ledger := billing.NewMemoryLedger(100)
	personas := persona.NewMemoryStore([]persona.Persona{{ID: "aria", Name: "Aria"}})

	svc := chatservice.NewService(
		store.NewMemoryRoomRepo(),
		store.NewMemoryMessageRepo(),
		personas,
		registry,
		nil,
		ledger,
		false,
		5,
		logger.NewNop(),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequireUser)
	New(svc, logger.NewNop()).RegisterRoutes(r)
	return r, adapter, ledger
}

func postChat(t *testing.T, r http.Handler, userID string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func parseFrames(t *testing.T, body string) []frame {
	t.Helper()
	var frames []frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			t.Fatalf("malformed frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestChatStreamsCompletion(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := postChat(t, r, "user-1", map[string]any{
		"character_id": "aria",
		"message":      "hello",
		"model":        "gpt-4o",
	})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}

	frames := parseFrames(t, resp.Body.String())
	if len(frames) < 2 {
		t.Fatalf("expected content frames plus a terminal frame, got %d", len(frames))
	}

	last := frames[len(frames)-1]
	if !last.Done {
		t.Fatalf("last frame must be terminal: %+v", last)
	}
	if len(last.SuggestedActions) == 0 {
		t.Fatal("terminal frame must carry suggested actions")
	}

	var assembled strings.Builder
	for _, f := range frames[:len(frames)-1] {
		assembled.WriteString(f.Content)
	}
	if assembled.String() != "*nods* The stars are out tonight. What kept you up?" {
		t.Fatalf("reassembled content mismatch: %q", assembled.String())
	}
}

func TestChatRequiresAuth(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := postChat(t, r, "", map[string]any{
		"character_id": "aria",
		"message":      "hello",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestChatValidatesBody(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := postChat(t, r, "user-1", map[string]any{"character_id": "aria"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing message, got %d", resp.Code)
	}

	resp = postChat(t, r, "user-1", map[string]any{"regenerate": true})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for regenerate without target, got %d", resp.Code)
	}
}

func TestChatInsufficientBalance(t *testing.T) {
	r, _, ledger := setupRouter(t)
	ledger.SetBalance("user-1", 0)

	resp := postChat(t, r, "user-1", map[string]any{
		"character_id": "aria",
		"message":      "hello",
	})
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if body["code"] != codeInsufficientPoints {
		t.Fatalf("expected reserved code, got %q", body["code"])
	}
}

func TestChatProviderFailureStreamsErrorFrame(t *testing.T) {
	r, adapter, _ := setupRouter(t)
	adapter.err = &provider.Error{Provider: "stub", Message: "upstream 500"}

	resp := postChat(t, r, "user-1", map[string]any{
		"character_id": "aria",
		"message":      "hello",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("recovered provider failure still streams, got %d", resp.Code)
	}

	frames := parseFrames(t, resp.Body.String())
	if len(frames) != 1 || frames[0].Error == "" {
		t.Fatalf("expected a single error frame, got %+v", frames)
	}
	if frames[0].Code != "PROVIDER_ERROR" {
		t.Fatalf("unexpected error code %q", frames[0].Code)
	}
}

func TestChatRegenerateFlow(t *testing.T) {
	r, adapter, _ := setupRouter(t)

	resp := postChat(t, r, "user-1", map[string]any{
		"character_id": "aria",
		"message":      "hello",
		"model":        "gpt-4o",
	})
	roomID := resp.Header().Get("X-Room-ID")
	if roomID == "" {
		t.Fatal("send must expose the room id")
	}

	req := httptest.NewRequest(http.MethodGet, "/rooms/"+roomID+"/messages", nil)
	req.Header.Set("X-User-ID", "user-1")
	listResp := httptest.NewRecorder()
	r.ServeHTTP(listResp, req)

	var messages []chatmodel.Message
	if err := json.Unmarshal(listResp.Body.Bytes(), &messages); err != nil {
		t.Fatalf("invalid message list: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	adapter.reply = "*laughs* Let me try that again."
	regenResp := postChat(t, r, "user-1", map[string]any{
		"room_id":            roomID,
		"regenerate":         true,
		"replace_message_id": messages[1].ID,
	})
	if regenResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", regenResp.Code, regenResp.Body.String())
	}

	frames := parseFrames(t, regenResp.Body.String())
	last := frames[len(frames)-1]
	if !last.Done {
		t.Fatalf("regenerate must end with a terminal frame: %+v", last)
	}
}

func TestRollbackEndpoint(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := postChat(t, r, "user-1", map[string]any{
		"character_id": "aria",
		"message":      "hello",
	})
	roomID := resp.Header().Get("X-Room-ID")

	req := httptest.NewRequest(http.MethodGet, "/rooms/"+roomID+"/messages", nil)
	req.Header.Set("X-User-ID", "user-1")
	listResp := httptest.NewRecorder()
	r.ServeHTTP(listResp, req)

	var messages []chatmodel.Message
	if err := json.Unmarshal(listResp.Body.Bytes(), &messages); err != nil {
		t.Fatalf("invalid message list: %v", err)
	}

	rollbackReq := httptest.NewRequest(http.MethodPost, "/messages/"+messages[0].ID+"/rollback", nil)
	rollbackReq.Header.Set("X-User-ID", "user-1")
	rollbackResp := httptest.NewRecorder()
	r.ServeHTTP(rollbackResp, rollbackReq)

	if rollbackResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rollbackResp.Code)
	}

	listResp = httptest.NewRecorder()
	r.ServeHTTP(listResp, req)
	if err := json.Unmarshal(listResp.Body.Bytes(), &messages); err != nil {
		t.Fatalf("invalid message list: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected only the new tip to stay visible, got %d", len(messages))
	}
}

func TestRollbackUnknownMessage(t *testing.T) {
	r, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/messages/nope/rollback", nil)
	req.Header.Set("X-User-ID", "user-1")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
