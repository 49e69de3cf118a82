package ai

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// scriptedModel answers each call with the next scripted step.
type scriptedModel struct {
	mu      sync.Mutex
	steps   [][]*schema.Message
	inputs  [][]*schema.Message
	options []*model.Options
	err     error
}

func (m *scriptedModel) next(input []*schema.Message, opts []model.Option) ([]*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	m.options = append(m.options, model.GetCommonOptions(&model.Options{}, opts...))
	if m.err != nil {
		return nil, m.err
	}
	if len(m.steps) == 0 {
		return nil, errors.New("no scripted step left")
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	return step, nil
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	chunks, err := m.next(input, opts)
	if err != nil {
		return nil, err
	}
	return schema.ConcatMessages(chunks)
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	chunks, err := m.next(input, opts)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *scriptedModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func text(s string) []*schema.Message {
	return []*schema.Message{{Role: schema.Assistant, Content: s}}
}

func toolCall(id, name, args string) []*schema.Message {
	return []*schema.Message{{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}}
}

type stubTool struct {
	name   string
	output string
	err    error
	mu     sync.Mutex
	args   []string
}

func (t *stubTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: "stub " + t.name}, nil
}

func (t *stubTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	t.mu.Lock()
	t.args = append(t.args, argumentsInJSON)
	t.mu.Unlock()
	return t.output, t.err
}

type memorySink struct {
	mu     sync.Mutex
	frames []string
}

func (s *memorySink) WriteFrame(frame []byte) error {
	s.mu.Lock()
	s.frames = append(s.frames, string(frame))
	s.mu.Unlock()
	return nil
}

func (s *memorySink) Close() error { return nil }
