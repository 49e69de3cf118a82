package ai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/service/stream"
	"github.com/zhouzirui/agenthub/backend/internal/service/tools"
)

func userMsg(id, text string) chat.Message {
	return chat.Message{ID: id, Role: chat.RoleUser, Parts: []chat.Part{{Type: chat.PartText, Text: text}}}
}

func newRegistry(entries map[agent.ToolID]*stubTool, approval map[agent.ToolID]bool) *tools.Registry {
	r := tools.NewRegistry()
	for id, t := range entries {
		r.Register(id, t, approval[id])
	}
	return r
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, IsReasoningModel("chat-model-reasoning"))
	assert.True(t, IsReasoningModel("Doubao-Thinking-Pro"))
	assert.False(t, IsReasoningModel("chat-model"))
}

func TestRunModelTextOnly(t *testing.T) {
	m := &scriptedModel{steps: [][]*schema.Message{text("Hello there")}}
	svc := NewServiceWithModels(m, nil, nil, 3)
	w := stream.NewWriter(chat.Message{}, &memorySink{})

	err := svc.RunModel(context.Background(), w, Turn{
		SystemPrompt: "be brief",
		Transcript:   []chat.Message{userMsg("u1", "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", w.Message().Text())

	require.Equal(t, 1, m.calls())
	input := m.inputs[0]
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Equal(t, "hi", input[1].Content)
}

func TestRunModelExecutesToolsAndContinues(t *testing.T) {
	weather := &stubTool{name: string(agent.ToolGetWeather), output: `{"temperature":21}`}
	m := &scriptedModel{steps: [][]*schema.Message{
		toolCall("call-1", string(agent.ToolGetWeather), `{"latitude":43.6,"longitude":-70.2}`),
		text("It is 21 degrees."),
	}}
	svc := NewServiceWithModels(m, nil, newRegistry(map[agent.ToolID]*stubTool{agent.ToolGetWeather: weather}, nil), 5)
	w := stream.NewWriter(chat.Message{}, &memorySink{})

	err := svc.RunModel(context.Background(), w, Turn{
		Transcript: []chat.Message{userMsg("u1", "weather in Portland?")},
		Tools:      []agent.ToolID{agent.ToolGetWeather},
	})
	require.NoError(t, err)

	require.Equal(t, 2, m.calls())
	require.Len(t, m.options[0].Tools, 1)
	assert.Equal(t, string(agent.ToolGetWeather), m.options[0].Tools[0].Name)

	second := m.inputs[1]
	last := second[len(second)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Equal(t, `{"temperature":21}`, last.Content)

	parts := w.Message().Parts
	require.Len(t, parts, 2)
	assert.Equal(t, chat.ToolOutputAvailable, parts[0].State)
	assert.JSONEq(t, `{"temperature":21}`, string(parts[0].Output))
	assert.Equal(t, "It is 21 degrees.", parts[1].Text)
	assert.Equal(t, []string{`{"latitude":43.6,"longitude":-70.2}`}, weather.args)
}

func TestRunModelPausesForApproval(t *testing.T) {
	doc := &stubTool{name: string(agent.ToolCreateDocument), output: "created"}
	m := &scriptedModel{steps: [][]*schema.Message{
		toolCall("call-1", string(agent.ToolCreateDocument), `{"title":"Lighthouses"}`),
	}}
	reg := newRegistry(map[agent.ToolID]*stubTool{agent.ToolCreateDocument: doc}, map[agent.ToolID]bool{agent.ToolCreateDocument: true})
	svc := NewServiceWithModels(m, nil, reg, 5)
	w := stream.NewWriter(chat.Message{}, &memorySink{})

	err := svc.RunModel(context.Background(), w, Turn{
		Transcript: []chat.Message{userMsg("u1", "write a doc")},
		Tools:      []agent.ToolID{agent.ToolCreateDocument},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls(), "no second step while a call awaits approval")
	assert.Empty(t, doc.args)

	parts := w.Message().Parts
	require.Len(t, parts, 1)
	assert.Equal(t, chat.ToolApprovalRequested, parts[0].State)
	assert.Equal(t, chat.ApprovalPending, parts[0].ApprovalState())
}

func TestRunModelRejectsToolsOutsideTheComposedSet(t *testing.T) {
	doc := &stubTool{name: string(agent.ToolCreateDocument), output: "created"}
	m := &scriptedModel{steps: [][]*schema.Message{
		toolCall("call-1", string(agent.ToolCreateDocument), `{}`),
		text("sorry"),
	}}
	weather := &stubTool{name: string(agent.ToolGetWeather)}
	reg := newRegistry(map[agent.ToolID]*stubTool{agent.ToolCreateDocument: doc, agent.ToolGetWeather: weather}, nil)
	svc := NewServiceWithModels(m, nil, reg, 5)
	w := stream.NewWriter(chat.Message{}, &memorySink{})

	require.NoError(t, svc.RunModel(context.Background(), w, Turn{
		Transcript: []chat.Message{userMsg("u1", "hi")},
		Tools:      []agent.ToolID{agent.ToolGetWeather},
	}))
	assert.Empty(t, doc.args)
	parts := w.Message().Parts
	require.NotEmpty(t, parts)
	assert.Equal(t, chat.ToolOutputError, parts[0].State)
}

func TestRunModelToolFailureIsReportedToModel(t *testing.T) {
	weather := &stubTool{name: string(agent.ToolGetWeather), err: errors.New("upstream 500")}
	m := &scriptedModel{steps: [][]*schema.Message{
		toolCall("call-1", string(agent.ToolGetWeather), `{}`),
		text("The weather service is down."),
	}}
	svc := NewServiceWithModels(m, nil, newRegistry(map[agent.ToolID]*stubTool{agent.ToolGetWeather: weather}, nil), 5)
	w := stream.NewWriter(chat.Message{}, &memorySink{})

	require.NoError(t, svc.RunModel(context.Background(), w, Turn{
		Transcript: []chat.Message{userMsg("u1", "weather?")},
		Tools:      []agent.ToolID{agent.ToolGetWeather},
	}))
	parts := w.Message().Parts
	assert.Equal(t, chat.ToolOutputError, parts[0].State)
	assert.Equal(t, "upstream 500", parts[0].ErrorText)
	assert.Equal(t, "Error: upstream 500", m.inputs[1][len(m.inputs[1])-1].Content)
}

func TestRunModelStepCap(t *testing.T) {
	weather := &stubTool{name: string(agent.ToolGetWeather), output: "ok"}
	m := &scriptedModel{steps: [][]*schema.Message{
		toolCall("c1", string(agent.ToolGetWeather), `{}`),
		toolCall("c2", string(agent.ToolGetWeather), `{}`),
		toolCall("c3", string(agent.ToolGetWeather), `{}`),
	}}
	svc := NewServiceWithModels(m, nil, newRegistry(map[agent.ToolID]*stubTool{agent.ToolGetWeather: weather}, nil), 2)
	w := stream.NewWriter(chat.Message{}, &memorySink{})

	require.NoError(t, svc.RunModel(context.Background(), w, Turn{
		Transcript: []chat.Message{userMsg("u1", "loop")},
		Tools:      []agent.ToolID{agent.ToolGetWeather},
	}))
	assert.Equal(t, 2, m.calls())
}

func TestRunModelReasoningDisablesTools(t *testing.T) {
	base := &scriptedModel{}
	reasoning := &scriptedModel{steps: [][]*schema.Message{{
		{Role: schema.Assistant, ReasoningContent: "let me think"},
		{Role: schema.Assistant, Content: "42"},
	}}}
	weather := &stubTool{name: string(agent.ToolGetWeather)}
	svc := NewServiceWithModels(base, reasoning, newRegistry(map[agent.ToolID]*stubTool{agent.ToolGetWeather: weather}, nil), 5)
	sink := &memorySink{}
	w := stream.NewWriter(chat.Message{}, sink)

	require.NoError(t, svc.RunModel(context.Background(), w, Turn{
		Transcript:    []chat.Message{userMsg("u1", "think hard")},
		Tools:         []agent.ToolID{agent.ToolGetWeather},
		SelectedModel: "chat-model-reasoning",
		SendReasoning: true,
	}))
	assert.Equal(t, 0, base.calls())
	require.Equal(t, 1, reasoning.calls())
	assert.Empty(t, reasoning.options[0].Tools)

	parts := w.Message().Parts
	require.Len(t, parts, 2)
	assert.Equal(t, chat.PartReasoning, parts[0].Type)
}

func TestRunModelWithoutModel(t *testing.T) {
	svc := NewServiceWithModels(nil, nil, nil, 0)
	err := svc.RunModel(context.Background(), stream.NewWriter(chat.Message{}), Turn{})
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestResolveApprovals(t *testing.T) {
	doc := &stubTool{name: string(agent.ToolCreateDocument), output: `{"id":"doc-1"}`}
	weather := &stubTool{name: string(agent.ToolGetWeather), output: "sunny"}
	reg := newRegistry(map[agent.ToolID]*stubTool{agent.ToolCreateDocument: doc, agent.ToolGetWeather: weather}, nil)
	svc := NewServiceWithModels(&scriptedModel{}, nil, reg, 5)

	yes, no := true, false
	base := chat.Message{ID: "a1", Role: chat.RoleAssistant, Parts: []chat.Part{
		{Type: chat.PartTool, ToolCallID: "c1", ToolName: string(agent.ToolCreateDocument), State: chat.ToolApprovalResponded,
			Input: json.RawMessage(`{"title":"x"}`), Approval: &chat.Approval{ID: "ap1", Approved: &yes}},
		{Type: chat.PartTool, ToolCallID: "c2", ToolName: string(agent.ToolGetWeather), State: chat.ToolApprovalResponded,
			Approval: &chat.Approval{ID: "ap2", Approved: &no, Reason: "not now"}},
		{Type: chat.PartTool, ToolCallID: "c3", ToolName: string(agent.ToolGetWeather), State: chat.ToolApprovalRequested,
			Approval: &chat.Approval{ID: "ap3"}},
	}}
	w := stream.NewWriter(base, &memorySink{})
	allowed := []agent.ToolID{agent.ToolCreateDocument, agent.ToolGetWeather}
	require.NoError(t, svc.ResolveApprovals(context.Background(), w, allowed))

	parts := w.Message().Parts
	require.Len(t, parts, 3)
	assert.Equal(t, chat.ToolOutputAvailable, parts[0].State)
	assert.JSONEq(t, `{"id":"doc-1"}`, string(parts[0].Output))
	assert.Equal(t, []string{`{"title":"x"}`}, doc.args)

	assert.Equal(t, chat.ToolOutputDenied, parts[1].State)
	assert.Empty(t, weather.args)

	assert.Equal(t, chat.ToolApprovalRequested, parts[2].State)
	assert.Equal(t, "a1", w.MessageID())
}

func TestResolveApprovalsOnlyRunsAllowedTools(t *testing.T) {
	weather := &stubTool{name: string(agent.ToolGetWeather), output: "sunny"}
	reg := newRegistry(map[agent.ToolID]*stubTool{agent.ToolGetWeather: weather}, map[agent.ToolID]bool{agent.ToolGetWeather: true})
	svc := NewServiceWithModels(&scriptedModel{}, nil, reg, 5)

	yes := true
	base := chat.Message{ID: "a1", Role: chat.RoleAssistant, Parts: []chat.Part{
		{Type: chat.PartTool, ToolCallID: "c1", ToolName: string(agent.ToolGetWeather), State: chat.ToolApprovalResponded,
			Input: json.RawMessage(`{"latitude":1,"longitude":2}`), Approval: &chat.Approval{ID: "ap1", Approved: &yes}},
	}}
	w := stream.NewWriter(base, &memorySink{})
	require.NoError(t, svc.ResolveApprovals(context.Background(), w, []agent.ToolID{}))

	parts := w.Message().Parts
	require.Len(t, parts, 1)
	assert.Equal(t, chat.ToolOutputError, parts[0].State)
	assert.Contains(t, parts[0].ErrorText, "not available")
	assert.Empty(t, weather.args, "a tool outside the composed set never runs")
}
