package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/middleware"
	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	chatModel "github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
	"github.com/zhouzirui/agenthub/backend/internal/service/access"
	"github.com/zhouzirui/agenthub/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/agenthub/backend/internal/service/chat"
	"github.com/zhouzirui/agenthub/backend/internal/service/dispatch"
	"github.com/zhouzirui/agenthub/backend/internal/service/memory"
	"github.com/zhouzirui/agenthub/backend/internal/service/stream"
	"github.com/zhouzirui/agenthub/backend/internal/store"
)

type echoModel struct{}

func (echoModel) RunModel(ctx context.Context, w *stream.Writer, turn ai.Turn) error {
	return w.WriteText("echo: " + chatModel.LastUserText(turn.Transcript))
}

func (echoModel) ResolveApprovals(ctx context.Context, w *stream.Writer, allowed []agent.ToolID) error {
	return nil
}

func setupRouter(t *testing.T, caps access.Entitlements) (*chi.Mux, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.SaveUser(ctx, user.User{ID: "alice", Plan: user.PlanFree}, "alice-token"); err != nil {
		t.Fatalf("SaveUser err: %v", err)
	}
	if err := s.SaveUser(ctx, user.User{ID: "bob", Plan: user.PlanFree}, "bob-token"); err != nil {
		t.Fatalf("SaveUser err: %v", err)
	}

	chatSvc := chatservice.NewService(s)
	limiter := access.NewRateLimiter(s, caps)
	dispatcher := dispatch.New(dispatch.Deps{
		Agents:    agent.MustSeedRegistry(),
		Limiter:   limiter,
		Chats:     chatSvc,
		Finalizer: chatservice.NewFinalizer(s),
		Memory:    memory.NewResolver(s, limiter, 0),
		Model:     echoModel{},
	})

	r := chi.NewRouter()
	r.Use(middleware.Auth(s))
	New(dispatcher, chatSvc).RegisterRoutes(r)
	return r, s
}

func chatBody(chatID, text string) string {
	return `{"id":"` + chatID + `","message":{"id":"` + uuid.NewString() + `","role":"user",` +
		`"parts":[{"type":"text","text":"` + text + `"}]},` +
		`"selectedChatModel":"chat-model","selectedVisibilityType":"private"}`
}

func do(r http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) chaterr.Error {
	t.Helper()
	var body chaterr.Error
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestPostChatStreamsResponse(t *testing.T) {
	r, s := setupRouter(t, nil)
	chatID := uuid.NewString()

	resp := do(r, http.MethodPost, "/chat", "alice-token", chatBody(chatID, "hello hub"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}
	body := resp.Body.String()
	if !strings.Contains(body, `"delta":"echo: hello hub"`) {
		t.Fatalf("missing echoed text in %s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream not terminated: %s", body)
	}

	messages, err := s.GetMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("GetMessages err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user and assistant message, got %d", len(messages))
	}
}

func TestPostChatValidatesBeforeAuth(t *testing.T) {
	r, _ := setupRouter(t, nil)

	resp := do(r, http.MethodPost, "/chat", "", `{"id":"nope"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if got := decodeError(t, resp).Code; got != chaterr.CodeBadRequestAPI {
		t.Fatalf("expected bad_request:api, got %s", got)
	}
}

func TestPostChatRequiresUser(t *testing.T) {
	r, _ := setupRouter(t, nil)

	resp := do(r, http.MethodPost, "/chat", "", chatBody(uuid.NewString(), "hi"))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if got := decodeError(t, resp).Code; got != chaterr.CodeUnauthorizedChat {
		t.Fatalf("expected unauthorized:chat, got %s", got)
	}
}

func TestPostChatRateLimited(t *testing.T) {
	r, _ := setupRouter(t, access.Entitlements{user.PlanFree: 0})
	chatID := uuid.NewString()

	// 第一条消息保存之后才会计入配额
	if resp := do(r, http.MethodPost, "/chat", "alice-token", chatBody(chatID, "one")); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	resp := do(r, http.MethodPost, "/chat", "alice-token", chatBody(chatID, "two"))
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if got := decodeError(t, resp).Code; got != chaterr.CodeRateLimitChat {
		t.Fatalf("expected rate_limit:chat, got %s", got)
	}
}

func TestPostChatForeignChatForbidden(t *testing.T) {
	r, _ := setupRouter(t, nil)
	chatID := uuid.NewString()
	if resp := do(r, http.MethodPost, "/chat", "alice-token", chatBody(chatID, "mine")); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp := do(r, http.MethodPost, "/chat", "bob-token", chatBody(chatID, "let me in"))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestDeleteChat(t *testing.T) {
	r, s := setupRouter(t, nil)
	chatID := uuid.NewString()
	if err := s.CreateChat(context.Background(), chatModel.Chat{ID: chatID, UserID: "alice", Visibility: chatModel.VisibilityPrivate}); err != nil {
		t.Fatalf("CreateChat err: %v", err)
	}

	cases := []struct {
		name   string
		target string
		token  string
		status int
	}{
		{"missing id", "/chat", "alice-token", http.StatusBadRequest},
		{"anonymous", "/chat?id=" + chatID, "", http.StatusUnauthorized},
		{"not owner", "/chat?id=" + chatID, "bob-token", http.StatusForbidden},
		{"owner", "/chat?id=" + chatID, "alice-token", http.StatusOK},
		{"already gone", "/chat?id=" + chatID, "alice-token", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp := do(r, http.MethodDelete, tc.target, tc.token, "")
		if resp.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, resp.Code)
		}
	}
}
