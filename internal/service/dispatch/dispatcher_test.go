package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
	"github.com/zhouzirui/agenthub/backend/internal/service/access"
	"github.com/zhouzirui/agenthub/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/agenthub/backend/internal/service/chat"
	"github.com/zhouzirui/agenthub/backend/internal/service/memory"
	"github.com/zhouzirui/agenthub/backend/internal/service/stream"
	"github.com/zhouzirui/agenthub/backend/internal/service/tools"
	"github.com/zhouzirui/agenthub/backend/internal/store"
)

type fakeModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	turns    []ai.Turn
	resolved int
	allowed  [][]agent.ToolID
}

func (m *fakeModel) RunModel(ctx context.Context, w *stream.Writer, turn ai.Turn) error {
	m.mu.Lock()
	m.turns = append(m.turns, turn)
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	return w.WriteText(m.reply)
}

func (m *fakeModel) ResolveApprovals(ctx context.Context, w *stream.Writer, allowed []agent.ToolID) error {
	m.mu.Lock()
	m.resolved++
	m.allowed = append(m.allowed, allowed)
	m.mu.Unlock()
	for _, part := range w.Message().Parts {
		if part.ApprovalState() == chat.ApprovalApproved && part.State == chat.ToolApprovalResponded {
			part.State = chat.ToolOutputAvailable
			part.Output = json.RawMessage(`"done"`)
			if err := w.ToolOutput(part); err != nil {
				return err
			}
		}
	}
	return nil
}

type fakeWorkflows struct {
	mu    sync.Mutex
	calls []agent.Workflow
	reply string
}

func (f *fakeWorkflows) Run(ctx context.Context, wf agent.Workflow, in ai.WorkflowInput) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, wf)
	f.mu.Unlock()
	return f.reply, nil
}

type fakeTitles struct{}

func (fakeTitles) Generate(ctx context.Context, text string) (string, error) {
	return "Title: " + text, nil
}

type harness struct {
	store     *store.MemoryStore
	model     *fakeModel
	workflows *fakeWorkflows
	d         *Dispatcher
}

func newHarness(t *testing.T, caps access.Entitlements) *harness {
	t.Helper()
	h := &harness{
		store:     store.NewMemoryStore(),
		model:     &fakeModel{reply: "model answer"},
		workflows: &fakeWorkflows{reply: "workflow answer"},
	}
	h.d = h.dispatcher(caps, h.model)
	return h
}

func (h *harness) dispatcher(caps access.Entitlements, model ModelRunner) *Dispatcher {
	limiter := access.NewRateLimiter(h.store, caps)
	return New(Deps{
		Agents:    agent.MustSeedRegistry(),
		Gate:      access.DefaultGate(),
		Limiter:   limiter,
		Chats:     chatsvc.NewService(h.store),
		Finalizer: chatsvc.NewFinalizer(h.store),
		Memory:    memory.NewResolver(h.store, limiter, 0),
		Composer:  tools.DefaultComposer(),
		Model:     model,
		Workflows: h.workflows,
		Titles:    fakeTitles{},
	})
}

var (
	freeUser    = user.User{ID: "u1", Plan: user.PlanFree}
	founderUser = user.User{ID: "u1", Plan: user.PlanPro, Founder: true}
)

func textMessage(text string) *chat.Message {
	return &chat.Message{ID: uuid.NewString(), Role: chat.RoleUser, Parts: []chat.Part{{Type: chat.PartText, Text: text}}}
}

func newRequest(chatID, text string) Request {
	return Request{
		ID:                     chatID,
		Message:                textMessage(text),
		SelectedChatModel:      "chat-model",
		SelectedVisibilityType: chat.VisibilityPrivate,
	}
}

func frameTypes(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	for _, chunk := range strings.Split(body, "\n\n") {
		payload := strings.TrimPrefix(chunk, "data: ")
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			out = append(out, payload)
			continue
		}
		var f stream.Frame
		require.NoError(t, json.Unmarshal([]byte(payload), &f))
		out = append(out, string(f.Type))
	}
	return out
}

func (h *harness) run(t *testing.T, u user.User, req Request) (*Plan, string) {
	t.Helper()
	ctx := context.Background()
	plan, err := h.d.Prepare(ctx, u, req)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, h.d.Stream(ctx, &buf, plan))
	return plan, buf.String()
}

func TestNewChatDriverSubrouteUsesWorkflow(t *testing.T) {
	h := newHarness(t, nil)
	chatID := uuid.NewString()

	plan, body := h.run(t, freeUser, newRequest(chatID, "/MyCarMindATO/Driver/ plan a trip"))

	assert.Equal(t, StateNewChat, plan.State)
	assert.Equal(t, PathWorkflow, plan.Path)
	assert.Equal(t, "mycarmindato-driver", plan.Agent.ID)
	assert.Equal(t, []agent.Workflow{agent.WorkflowMyCarMind}, h.workflows.calls)
	assert.Empty(t, h.model.turns, "generic model path must not run")

	stored, err := h.store.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, "mycarmindato-driver", stored.RouteKey)
	assert.Equal(t, "Title: plan a trip", stored.Title)

	assert.Equal(t, []string{
		"start", "text-start", "text-delta", "text-end", "data-chat-title", "finish", "[DONE]",
	}, frameTypes(t, body))

	messages, err := h.store.GetMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, "workflow answer", messages[1].Text())
}

func TestExistingNAMCChatDocumentIntentBypassesWorkflow(t *testing.T) {
	h := newHarness(t, nil)
	chatID := uuid.NewString()
	h.run(t, freeUser, newRequest(chatID, "/NAMC show me the archive"))
	require.Equal(t, []agent.Workflow{agent.WorkflowNAMCCurator}, h.workflows.calls)

	plan, _ := h.run(t, freeUser, newRequest(chatID, "create a document about the lighthouse"))

	assert.Equal(t, StateExistingChat, plan.State)
	assert.Equal(t, "namc", plan.Agent.ID)
	assert.True(t, plan.Tools.Overridden)
	assert.Equal(t, PathModel, plan.Path)
	assert.Len(t, h.workflows.calls, 1, "curator workflow bypassed")

	require.Len(t, h.model.turns, 1)
	assert.Equal(t, tools.DocumentTools, h.model.turns[0].Tools)
	assert.NotEqual(t, plan.Agent.Tools, h.model.turns[0].Tools)
	// the transcript carries the stored history plus the new message
	assert.Len(t, h.model.turns[0].Transcript, 3)
}

func TestRouteKeyIsPinnedForTheChatLifetime(t *testing.T) {
	h := newHarness(t, nil)
	chatID := uuid.NewString()
	h.run(t, freeUser, newRequest(chatID, "/NAMC hello"))

	plan, _ := h.run(t, freeUser, newRequest(chatID, "/BrooksBears tell me a story"))
	assert.Equal(t, "namc", plan.Agent.ID)

	stored, err := h.store.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, "namc", stored.RouteKey)
}

func TestRateLimitRejectsBeforeAnything(t *testing.T) {
	h := newHarness(t, access.Entitlements{user.PlanFree: 2})
	ctx := context.Background()
	require.NoError(t, h.store.CreateChat(ctx, chat.Chat{ID: "old", UserID: freeUser.ID, Visibility: chat.VisibilityPrivate}))
	for i := 0; i < 3; i++ {
		require.NoError(t, h.store.SaveMessages(ctx, []chat.Message{{
			ID: uuid.NewString(), ChatID: "old", Role: chat.RoleUser, CreatedAt: time.Now().UTC(),
		}}))
	}

	chatID := uuid.NewString()
	_, err := h.d.Prepare(ctx, freeUser, newRequest(chatID, "hi"))
	require.Error(t, err)
	ce := chaterr.As(err)
	assert.Equal(t, chaterr.CodeRateLimitChat, ce.Code)
	assert.Equal(t, 429, ce.Status())

	_, err = h.store.GetChat(ctx, chatID)
	assert.ErrorIs(t, err, store.ErrChatNotFound)
}

func TestRateLimitAllowsExactlyTheCap(t *testing.T) {
	h := newHarness(t, access.Entitlements{user.PlanFree: 2})
	ctx := context.Background()
	require.NoError(t, h.store.CreateChat(ctx, chat.Chat{ID: "old", UserID: freeUser.ID, Visibility: chat.VisibilityPrivate}))
	for i := 0; i < 2; i++ {
		require.NoError(t, h.store.SaveMessages(ctx, []chat.Message{{ID: uuid.NewString(), ChatID: "old", Role: chat.RoleUser}}))
	}
	_, err := h.d.Prepare(ctx, freeUser, newRequest(uuid.NewString(), "hi"))
	assert.NoError(t, err)
}

func TestElevatedSubrouteGate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	chatID := uuid.NewString()
	_, err := h.d.Prepare(ctx, freeUser, newRequest(chatID, "/MyCarMindATO/Trucker/ route me"))
	require.Error(t, err)
	assert.Equal(t, chaterr.CodeForbiddenRoute, chaterr.As(err).Code)
	_, err = h.store.GetChat(ctx, chatID)
	assert.ErrorIs(t, err, store.ErrChatNotFound)

	plan, err := h.d.Prepare(ctx, founderUser, newRequest(chatID, "/MyCarMindATO/Trucker/ route me"))
	require.NoError(t, err)
	assert.Equal(t, "mycarmindato-trucker", plan.Agent.ID)
}

func TestElevatedGateAlsoAppliesToPinnedRoutes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	chatID := uuid.NewString()
	require.NoError(t, h.store.CreateChat(ctx, chat.Chat{
		ID: chatID, UserID: freeUser.ID, RouteKey: "mycarmindato-trucker", Visibility: chat.VisibilityPrivate,
	}))

	_, err := h.d.Prepare(ctx, freeUser, newRequest(chatID, "continue"))
	require.Error(t, err)
	assert.Equal(t, chaterr.CodeForbiddenRoute, chaterr.As(err).Code)
}

func TestForeignChatIsForbidden(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	chatID := uuid.NewString()
	require.NoError(t, h.store.CreateChat(ctx, chat.Chat{ID: chatID, UserID: "someone-else", Visibility: chat.VisibilityPrivate}))

	_, err := h.d.Prepare(ctx, freeUser, newRequest(chatID, "hi"))
	require.Error(t, err)
	assert.Equal(t, chaterr.CodeForbiddenChat, chaterr.As(err).Code)
	assert.Equal(t, 403, chaterr.As(err).Status())
}

func TestUnparseableTriggerIsBadRequest(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.d.Prepare(context.Background(), freeUser, newRequest(uuid.NewString(), "/NAMC!now"))
	require.Error(t, err)
	assert.Equal(t, chaterr.CodeBadRequestAPI, chaterr.As(err).Code)
}

func TestUnknownTriggerFallsBackToDefault(t *testing.T) {
	h := newHarness(t, nil)
	plan, _ := h.run(t, freeUser, newRequest(uuid.NewString(), "/shrug whatever"))
	assert.Equal(t, agent.DefaultID, plan.Agent.ID)
	assert.Equal(t, PathModel, plan.Path)
}

func TestToolApprovalContinuationUpdatesInPlace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	chatID := uuid.NewString()

	// the curator agent has a workflow; continuations still take the model path
	h.run(t, freeUser, newRequest(chatID, "/NAMC write a document about lighthouses"))
	stored, err := h.store.GetMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assistantID := uuid.NewString()
	pending := chat.Message{ID: assistantID, ChatID: chatID, Role: chat.RoleAssistant, Parts: []chat.Part{
		{Type: chat.PartTool, ToolCallID: "call-1", ToolName: "createDocument", State: chat.ToolApprovalRequested,
			Approval: &chat.Approval{ID: "ap-1"}},
	}}
	require.NoError(t, h.store.SaveMessages(ctx, []chat.Message{pending}))

	approved := true
	answered := pending
	answered.Parts = []chat.Part{{Type: chat.PartTool, ToolCallID: "call-1", ToolName: "createDocument",
		State: chat.ToolApprovalResponded, Approval: &chat.Approval{ID: "ap-1", Approved: &approved}}}

	req := Request{
		ID:                     chatID,
		Messages:               append(append([]chat.Message(nil), stored...), answered),
		SelectedChatModel:      "chat-model",
		SelectedVisibilityType: chat.VisibilityPrivate,
	}
	plan, body := h.run(t, freeUser, req)

	assert.Equal(t, StateToolApprovalContinuation, plan.State)
	assert.Equal(t, PathModel, plan.Path)
	assert.Equal(t, 1, h.model.resolved)
	assert.Contains(t, frameTypes(t, body), "tool-output-available")
	assert.NotContains(t, frameTypes(t, body), "data-chat-title")

	turn := h.model.turns[len(h.model.turns)-1]
	last := turn.Transcript[len(turn.Transcript)-1]
	assert.Equal(t, assistantID, last.ID)
	assert.Equal(t, chat.ToolOutputAvailable, last.Parts[0].State)

	messages, err := h.store.GetMessages(ctx, chatID)
	require.NoError(t, err)
	count := 0
	for _, m := range messages {
		if m.ID == assistantID {
			count++
			assert.Equal(t, chat.ToolOutputAvailable, m.Parts[0].State)
			assert.Equal(t, "model answer", m.Text())
		}
	}
	assert.Equal(t, 1, count, "continued message is updated, not duplicated")
	assert.Len(t, messages, 3)
}

func TestContinuationForUnknownChatIsBadRequest(t *testing.T) {
	h := newHarness(t, nil)
	approved := true
	req := Request{
		ID: uuid.NewString(),
		Messages: []chat.Message{{ID: uuid.NewString(), Role: chat.RoleAssistant, Parts: []chat.Part{
			{Type: chat.PartTool, ToolCallID: "c", ToolName: "getWeather", State: chat.ToolApprovalResponded,
				Approval: &chat.Approval{ID: "a", Approved: &approved}},
		}}},
		SelectedChatModel:      "chat-model",
		SelectedVisibilityType: chat.VisibilityPrivate,
	}
	_, err := h.d.Prepare(context.Background(), freeUser, req)
	require.Error(t, err)
	assert.Equal(t, chaterr.CodeBadRequestAPI, chaterr.As(err).Code)
}

func TestModelFailureDegradesToApology(t *testing.T) {
	h := newHarness(t, nil)
	h.model.err = errors.New("provider exploded")
	chatID := uuid.NewString()

	_, body := func() (*Plan, string) {
		ctx := context.Background()
		plan, err := h.d.Prepare(ctx, freeUser, newRequest(chatID, "hello"))
		require.NoError(t, err)
		var buf bytes.Buffer
		err = h.d.Stream(ctx, &buf, plan)
		require.Error(t, err)
		return plan, buf.String()
	}()

	assert.Contains(t, body, chaterr.StreamApology)
	assert.NotContains(t, body, "provider exploded")

	messages, err := h.store.GetMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, messages, 1, "only the user message is stored")
}

func TestReasoningModelSendsReasoning(t *testing.T) {
	h := newHarness(t, nil)
	req := newRequest(uuid.NewString(), "why is the sky blue")
	req.SelectedChatModel = "chat-model-reasoning"
	h.run(t, freeUser, req)

	require.Len(t, h.model.turns, 1)
	assert.True(t, h.model.turns[0].SendReasoning)
	assert.Equal(t, "chat-model-reasoning", h.model.turns[0].SelectedModel)
}

func TestMemoryContextReachesSystemPrompt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, h.store.SaveMemory(ctx, chat.MemoryRecord{
		ID: "m1", OwnerID: freeUser.ID, Route: "MyCarMindATO/Driver", ProjectRoute: "MyCarMindATO",
		RawText: "drives an electric car", ApprovedAt: now, CreatedAt: now,
	}))
	require.NoError(t, h.store.SaveHomeLocation(ctx, chat.HomeLocation{OwnerID: freeUser.ID, Route: "MyCarMindATO", Text: "Portland, ME"}))

	plan, err := h.d.Prepare(ctx, freeUser, newRequest(uuid.NewString(), "/MyCarMindATO/Driver/ plan a trip"))
	require.NoError(t, err)
	assert.Equal(t, memory.ScopeProject, plan.Memory.Scope)
	assert.Contains(t, plan.SystemPrompt, "drives an electric car")
	assert.Contains(t, plan.SystemPrompt, "Portland, ME")
}

func TestVideoCallSessionShapesPrompt(t *testing.T) {
	h := newHarness(t, nil)
	req := newRequest(uuid.NewString(), "hello")
	req.SessionType = ai.SessionVideoCall
	plan, err := h.d.Prepare(context.Background(), freeUser, req)
	require.NoError(t, err)
	assert.Contains(t, plan.SystemPrompt, "video call")
}
