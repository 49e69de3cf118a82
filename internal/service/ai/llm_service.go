package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/config"
	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/service/stream"
	"github.com/zhouzirui/agenthub/backend/internal/service/tools"
)

// DefaultMaxSteps bounds model calls per turn when nothing is configured.
const DefaultMaxSteps = 5

// ErrNoModel is returned when no chat model is configured.
var ErrNoModel = errors.New("ai: chat model not configured")

// Service runs the generic model path: streamed model output plus a bounded tool loop.
type Service struct {
	chatModel      model.ChatModel
	reasoningModel model.ChatModel
	tools          *tools.Registry
	maxSteps       int
	logger         *zap.Logger
}

// NewService creates the chat models from configuration.
func NewService(ctx context.Context, cfg config.AIConfig, registry *tools.Registry, maxSteps int) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	reasoningModel, err := cfg.NewReasoningChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning model: %w", err)
	}
	return NewServiceWithModels(chatModel, reasoningModel, registry, maxSteps), nil
}

// NewServiceWithModels wires prebuilt models. reasoningModel may be nil, in which case
// reasoning turns use chatModel without tools.
func NewServiceWithModels(chatModel, reasoningModel model.ChatModel, registry *tools.Registry, maxSteps int) *Service {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Service{
		chatModel:      chatModel,
		reasoningModel: reasoningModel,
		tools:          registry,
		maxSteps:       maxSteps,
		logger:         logging.Named("ai"),
	}
}

// ChatModel returns the underlying chat model.
func (s *Service) ChatModel() model.ChatModel {
	return s.chatModel
}

// IsReasoningModel reports whether a selected model id names a reasoning/thinking variant.
// Such turns run without any tools.
func IsReasoningModel(id string) bool {
	id = strings.ToLower(id)
	return strings.Contains(id, "reasoning") || strings.Contains(id, "thinking")
}

// Turn is one generic model invocation.
type Turn struct {
	SystemPrompt string
	// Transcript is the full conversation, ending with the newest user message.
	Transcript    []chat.Message
	Tools         []agent.ToolID
	SelectedModel string
	SendReasoning bool
}

// RunModel streams the model into w, executing tool calls until the model stops calling
// tools, a call needs approval, or the step cap is reached.
func (s *Service) RunModel(ctx context.Context, w *stream.Writer, turn Turn) error {
	if s.chatModel == nil {
		return ErrNoModel
	}

	cm := s.chatModel
	var (
		opts    []model.Option
		allowed map[agent.ToolID]bool
	)
	if IsReasoningModel(turn.SelectedModel) {
		if s.reasoningModel != nil {
			cm = s.reasoningModel
		}
	} else if len(turn.Tools) > 0 {
		infos, missing, err := s.tools.Bind(ctx, turn.Tools)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			s.logger.Debug("tools without implementation", zap.Any("tools", missing))
		}
		if len(infos) > 0 {
			opts = append(opts, model.WithTools(infos))
			allowed = make(map[agent.ToolID]bool, len(turn.Tools))
			for _, id := range turn.Tools {
				allowed[id] = true
			}
		}
	}

	messages := make([]*schema.Message, 0, len(turn.Transcript)+1)
	if turn.SystemPrompt != "" {
		messages = append(messages, schema.SystemMessage(turn.SystemPrompt))
	}
	messages = append(messages, ToSchemaMessages(turn.Transcript)...)

	for step := 0; step < s.maxSteps; step++ {
		reader, err := cm.Stream(ctx, messages, opts...)
		if err != nil {
			return fmt.Errorf("failed to stream model output: %w", err)
		}
		out, err := w.Merge(ctx, reader, turn.SendReasoning)
		if err != nil {
			return err
		}
		if len(out.ToolCalls) == 0 {
			return nil
		}

		messages = append(messages, out)
		results, paused, err := s.runToolCalls(ctx, w, out.ToolCalls, allowed)
		if err != nil {
			return err
		}
		if paused {
			return nil
		}
		messages = append(messages, results...)
	}

	s.logger.Info("tool step cap reached", zap.Int("max_steps", s.maxSteps))
	return nil
}

// runToolCalls executes one round of calls. Calls needing approval are announced and the
// turn pauses once the round is done.
func (s *Service) runToolCalls(ctx context.Context, w *stream.Writer, calls []schema.ToolCall, allowed map[agent.ToolID]bool) ([]*schema.Message, bool, error) {
	results := make([]*schema.Message, 0, len(calls))
	paused := false
	for _, call := range calls {
		part := chat.Part{
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Input:      toRaw(call.Function.Arguments),
		}
		if err := w.ToolInput(part); err != nil {
			return nil, false, err
		}

		id := agent.ToolID(call.Function.Name)
		entry, ok := s.tools.Lookup(id)
		if !ok || !allowed[id] {
			part.State = chat.ToolOutputError
			part.ErrorText = fmt.Sprintf("tool %q is not available", call.Function.Name)
			if err := w.ToolOutput(part); err != nil {
				return nil, false, err
			}
			results = append(results, schema.ToolMessage("Error: "+part.ErrorText, call.ID))
			continue
		}

		if entry.NeedsApproval {
			if err := w.ToolApprovalRequest(part); err != nil {
				return nil, false, err
			}
			paused = true
			continue
		}

		result, err := s.invoke(ctx, w, entry, part)
		if err != nil {
			return nil, false, err
		}
		results = append(results, schema.ToolMessage(result, call.ID))
	}
	return results, paused, nil
}

// invoke runs a tool and records its outcome on w. A failing tool is reported to the
// model, it does not fail the turn.
func (s *Service) invoke(ctx context.Context, w *stream.Writer, entry tools.Entry, part chat.Part) (string, error) {
	output, runErr := entry.Tool.InvokableRun(ctx, string(orEmptyObject(part.Input)))
	if runErr != nil {
		s.logger.Warn("tool failed", zap.String("tool", part.ToolName), zap.Error(runErr))
		part.State = chat.ToolOutputError
		part.ErrorText = runErr.Error()
		if err := w.ToolOutput(part); err != nil {
			return "", err
		}
		return "Error: " + part.ErrorText, nil
	}
	part.State = chat.ToolOutputAvailable
	part.Output = toRaw(output)
	if err := w.ToolOutput(part); err != nil {
		return "", err
	}
	return output, nil
}

// ResolveApprovals settles the decided tool calls of the message w continues: approved
// calls run, denied calls are marked denied. Calls without a decision are left alone.
// An approved call outside allowed is answered with an output error instead of running.
func (s *Service) ResolveApprovals(ctx context.Context, w *stream.Writer, allowed []agent.ToolID) error {
	permitted := make(map[agent.ToolID]bool, len(allowed))
	for _, id := range allowed {
		permitted[id] = true
	}

	for _, part := range w.Message().Parts {
		if part.Type != chat.PartTool {
			continue
		}
		switch part.ApprovalState() {
		case chat.ApprovalApproved:
			if part.State != chat.ToolApprovalResponded {
				continue
			}
			id := agent.ToolID(part.ToolName)
			entry, ok := s.tools.Lookup(id)
			if !ok || !permitted[id] {
				s.logger.Warn("approved tool not available", zap.String("tool", part.ToolName))
				part.State = chat.ToolOutputError
				part.ErrorText = fmt.Sprintf("tool %q is not available", part.ToolName)
				if err := w.ToolOutput(part); err != nil {
					return err
				}
				continue
			}
			if _, err := s.invoke(ctx, w, entry, part); err != nil {
				return err
			}
		case chat.ApprovalDenied:
			if part.State == chat.ToolOutputDenied {
				continue
			}
			if err := w.ToolDenied(part); err != nil {
				return err
			}
		}
	}
	return nil
}
