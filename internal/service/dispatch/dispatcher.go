// Package dispatch turns one inbound chat request into a resolved agent, memory context,
// tool set and execution path, then drives the response stream.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/logging"
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

// DefaultMaxDuration bounds a whole response when nothing is configured.
const DefaultMaxDuration = 60 * time.Second

// ModelRunner runs the generic model path.
type ModelRunner interface {
	RunModel(ctx context.Context, w *stream.Writer, turn ai.Turn) error
	ResolveApprovals(ctx context.Context, w *stream.Writer, allowed []agent.ToolID) error
}

// WorkflowRunner runs specialized single-shot workflows.
type WorkflowRunner interface {
	Run(ctx context.Context, wf agent.Workflow, in ai.WorkflowInput) (string, error)
}

// TitleGenerator produces chat titles.
type TitleGenerator interface {
	Generate(ctx context.Context, userText string) (string, error)
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Agents    agent.Store
	Gate      *access.Gate
	Limiter   *access.RateLimiter
	Chats     *chatsvc.Service
	Finalizer *chatsvc.Finalizer
	Memory    *memory.Resolver
	Composer  *tools.Composer
	Prompts   *ai.PromptManager
	Model     ModelRunner
	// Workflows may be nil, every request then takes the model path.
	Workflows WorkflowRunner
	Titles    TitleGenerator
	Publisher stream.Publisher
	// MaxDuration is the overall execution budget of one response.
	MaxDuration time.Duration
}

// Dispatcher is the request state machine.
type Dispatcher struct {
	deps   Deps
	logger *zap.Logger
}

// New builds a dispatcher, filling optional collaborators with defaults.
func New(deps Deps) *Dispatcher {
	if deps.Gate == nil {
		deps.Gate = access.DefaultGate()
	}
	if deps.Composer == nil {
		deps.Composer = tools.DefaultComposer()
	}
	if deps.Prompts == nil {
		deps.Prompts = ai.NewPromptManager()
	}
	if deps.Publisher == nil {
		deps.Publisher = stream.NoopPublisher{}
	}
	if deps.MaxDuration <= 0 {
		deps.MaxDuration = DefaultMaxDuration
	}
	return &Dispatcher{deps: deps, logger: logging.Named("dispatch")}
}

// Plan is everything resolved for one request before the stream opens.
type Plan struct {
	State        State
	Path         Path
	User         user.User
	Chat         chat.Chat
	Agent        agent.Config
	Tools        tools.Composition
	Memory       memory.Context
	SystemPrompt string
	SessionType  ai.SessionType
	Model        string

	// Transcript is the model input, ending with the newest user message or, in continuation
	// mode, the stored transcript with the continued assistant message in place.
	Transcript []chat.Message
	// Submitted holds the stored messages of a continuation; the finalizer updates these ids.
	Submitted []chat.Message
	// Base is the stored assistant message a continuation extends, carrying the decisions
	// the client gave on its pending approvals.
	Base      chat.Message
	baseIndex int

	// TitleText is set for new chats and seeds the title task.
	TitleText string
}

// Prepare runs every check and side effect that must happen before any byte is streamed.
// Rejections come back as *chaterr.Error.
func (d *Dispatcher) Prepare(ctx context.Context, u user.User, req Request) (*Plan, error) {
	logger := logging.FromContext(ctx, "dispatch")

	if d.deps.Limiter != nil {
		if err := d.deps.Limiter.Check(ctx, u); err != nil {
			return nil, err
		}
	}

	existing, exists, err := d.deps.Chats.OwnedChat(ctx, req.ID, u.ID)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		User:        u,
		SessionType: req.SessionType,
		Model:       req.SelectedChatModel,
		baseIndex:   -1,
	}

	switch {
	case len(req.Messages) > 0 && chat.IsContinuation(req.Messages):
		if !exists {
			return nil, chaterr.New(chaterr.CodeBadRequestAPI, "Tool approval for an unknown chat.")
		}
		plan.State = StateToolApprovalContinuation
		plan.Chat = existing
		if err := d.prepareContinuation(ctx, plan, req.Messages); err != nil {
			return nil, err
		}
	default:
		msg := singleMessage(req)
		if msg.Role != chat.RoleUser {
			return nil, chaterr.New(chaterr.CodeBadRequestAPI, "The last message must come from the user.")
		}
		if exists {
			plan.State = StateExistingChat
			plan.Chat = existing
		} else {
			plan.State = StateNewChat
		}
		if err := d.prepareSingle(ctx, plan, req, msg); err != nil {
			return nil, err
		}
	}

	memCtx, _, err := d.deps.Memory.Resolve(ctx, u, plan.Agent)
	if err != nil {
		return nil, err
	}
	plan.Memory = memCtx

	plan.Tools = d.deps.Composer.Compose(plan.Agent, chat.LastUserText(plan.Transcript))
	plan.Path = PathModel
	if plan.Agent.Workflow != agent.WorkflowNone &&
		!plan.Tools.Overridden &&
		plan.State != StateToolApprovalContinuation &&
		d.deps.Workflows != nil {
		plan.Path = PathWorkflow
	}

	plan.SystemPrompt = d.deps.Prompts.BuildSystemPrompt(plan.Agent, ai.PromptContext{
		Memory:      memCtx.Text,
		SessionType: req.SessionType,
	})

	logger.Info("request dispatched",
		zap.String("chat_id", plan.Chat.ID),
		zap.String("state", plan.State.String()),
		zap.String("agent", plan.Agent.ID),
		zap.String("path", plan.Path.String()),
		zap.String("memory_scope", memCtx.Scope.String()),
		zap.Strings("intents", plan.Tools.Intents))
	return plan, nil
}

// singleMessage picks the message of a single-message request. A transcript without any
// approval decision is treated as its last message.
func singleMessage(req Request) chat.Message {
	if req.Message != nil {
		return *req.Message
	}
	return req.Messages[len(req.Messages)-1]
}

func (d *Dispatcher) prepareSingle(ctx context.Context, plan *Plan, req Request, msg chat.Message) error {
	u := plan.User

	if plan.State == StateNewChat {
		cfg := d.deps.Agents.Default()
		text := msg.Text()
		trigger, found, err := ParseTrigger(text)
		if err != nil {
			return err
		}
		if found {
			if resolved, ok := ResolveTrigger(d.deps.Agents, trigger.Slash); ok {
				cfg = resolved
			}
			text = trigger.Rest
		}
		// creation-time check
		if err := d.deps.Gate.Check(u, cfg); err != nil {
			return err
		}

		created, err := d.deps.Chats.CreateChat(ctx, chat.Chat{
			ID:         req.ID,
			UserID:     u.ID,
			Title:      ai.PlaceholderTitle,
			RouteKey:   cfg.ID,
			Visibility: req.SelectedVisibilityType,
		})
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		plan.Chat = created
		plan.TitleText = text
	}

	// The persisted route wins over any trigger in later messages.
	plan.Agent = agent.Resolve(d.deps.Agents, plan.Chat.RouteKey)
	if err := d.deps.Gate.Check(u, plan.Agent); err != nil {
		return err
	}

	var history []chat.Message
	if plan.State == StateExistingChat {
		stored, err := d.deps.Chats.History(ctx, plan.Chat.ID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		for _, m := range stored {
			// a resent message replaces its stored copy
			if m.ID != msg.ID {
				history = append(history, m)
			}
		}
	}

	msg.ChatID = plan.Chat.ID
	msg.CreatedAt = time.Now().UTC()
	if err := d.deps.Chats.SaveUserMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrMessageConflict) {
			return chaterr.New(chaterr.CodeBadRequestAPI, "Message id belongs to another chat.")
		}
		return fmt.Errorf("save user message: %w", err)
	}
	plan.Transcript = append(history, msg)
	return nil
}

func (d *Dispatcher) prepareContinuation(ctx context.Context, plan *Plan, messages []chat.Message) error {
	plan.Agent = agent.Resolve(d.deps.Agents, plan.Chat.RouteKey)
	if err := d.deps.Gate.Check(plan.User, plan.Agent); err != nil {
		return err
	}

	var answered *chat.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleAssistant && chat.IsContinuation(messages[i:i+1]) {
			answered = &messages[i]
			break
		}
	}
	if answered == nil {
		return chaterr.New(chaterr.CodeBadRequestAPI, "No assistant message carries the approval.")
	}

	stored, err := d.deps.Chats.History(ctx, plan.Chat.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for i, m := range stored {
		if m.ID != answered.ID || m.Role != chat.RoleAssistant {
			continue
		}
		base, decided := applyDecisions(m, *answered)
		if decided == 0 {
			return chaterr.New(chaterr.CodeBadRequestAPI, "No pending tool approval was answered.")
		}
		plan.Submitted = stored
		plan.Transcript = append([]chat.Message(nil), stored...)
		plan.Transcript[i] = base
		plan.Base = base
		plan.baseIndex = i
		return nil
	}
	return chaterr.New(chaterr.CodeBadRequestAPI, "The approved message is not part of this chat.")
}

// applyDecisions copies the client's approve/deny answers onto the stored message. Only
// parts still waiting for approval take a decision, and a stored approval id must match.
func applyDecisions(stored, answered chat.Message) (chat.Message, int) {
	decisions := make(map[string]chat.Part, len(answered.Parts))
	for _, p := range answered.Parts {
		switch p.ApprovalState() {
		case chat.ApprovalApproved, chat.ApprovalDenied:
			decisions[p.ToolCallID] = p
		}
	}

	out := stored
	out.Parts = append([]chat.Part(nil), stored.Parts...)
	decided := 0
	for i, part := range out.Parts {
		if part.Type != chat.PartTool || part.State != chat.ToolApprovalRequested {
			continue
		}
		answer, ok := decisions[part.ToolCallID]
		if !ok {
			continue
		}
		approval := chat.Approval{}
		if part.Approval != nil {
			approval.ID = part.Approval.ID
		}
		if approval.ID != "" && (answer.Approval == nil || answer.Approval.ID != approval.ID) {
			continue
		}
		if answer.Approval != nil {
			approval.Reason = answer.Approval.Reason
		}
		approved := answer.ApprovalState() == chat.ApprovalApproved
		approval.Approved = &approved

		part.State = chat.ToolApprovalResponded
		part.Approval = &approval
		out.Parts[i] = part
		decided++
	}
	return out, decided
}

// Stream writes the response of plan to w. Rejections are impossible at this point; any
// failure reaches the client as the static apology frame.
func (d *Dispatcher) Stream(ctx context.Context, w io.Writer, plan *Plan) error {
	logger := logging.FromContext(ctx, "dispatch").With(zap.String("chat_id", plan.Chat.ID))

	sinks := []stream.Sink{stream.NewClientSink(w)}
	if mirror := d.deps.Publisher.Register(ctx, plan.Chat.ID); mirror != nil {
		sinks = append(sinks, mirror)
	}

	runCtx := ctx
	if d.deps.Publisher.Active() {
		// a resumer may still be reading after the original client left
		runCtx = context.WithoutCancel(ctx)
	}
	runCtx, cancel := context.WithTimeout(runCtx, d.deps.MaxDuration)
	defer cancel()

	var title *stream.TitleTask
	if plan.State == StateNewChat && d.deps.Titles != nil {
		text := plan.TitleText
		title = stream.StartTitle(runCtx, func(ctx context.Context) (string, error) {
			return d.deps.Titles.Generate(ctx, text)
		})
	}

	writer := stream.NewWriter(plan.Base, sinks...)
	orchestrator := stream.NewOrchestrator(writer, title, stream.Hooks{
		OnTitle: func(ctx context.Context, t string) error {
			return d.deps.Chats.UpdateTitle(ctx, plan.Chat.ID, t)
		},
		OnFinish: func(ctx context.Context, messages []chat.Message) error {
			return d.deps.Finalizer.Finalize(ctx, plan.Chat.ID,
				plan.State == StateToolApprovalContinuation, plan.Submitted, messages)
		},
		OnError: func(ctx context.Context, err error) {
			ce := chaterr.As(err)
			logger.Error("response failed", zap.String("code", string(ce.Code)), zap.Error(err))
		},
	})

	return orchestrator.Run(runCtx, func(ctx context.Context, w *stream.Writer) error {
		return d.execute(ctx, w, plan)
	})
}

func (d *Dispatcher) execute(ctx context.Context, w *stream.Writer, plan *Plan) error {
	if plan.Path == PathWorkflow {
		text, err := d.deps.Workflows.Run(ctx, plan.Agent.Workflow, ai.WorkflowInput{
			Agent:        plan.Agent,
			SystemPrompt: plan.SystemPrompt,
			Transcript:   plan.Transcript,
		})
		if err != nil {
			return err
		}
		return w.WriteText(text)
	}

	transcript := plan.Transcript
	if plan.State == StateToolApprovalContinuation {
		if err := d.deps.Model.ResolveApprovals(ctx, w, plan.Tools.Tools); err != nil {
			return err
		}
		transcript = append([]chat.Message(nil), plan.Transcript...)
		transcript[plan.baseIndex] = w.Message()
	}

	return d.deps.Model.RunModel(ctx, w, ai.Turn{
		SystemPrompt:  plan.SystemPrompt,
		Transcript:    transcript,
		Tools:         plan.Tools.Tools,
		SelectedModel: plan.Model,
		SendReasoning: ai.IsReasoningModel(plan.Model),
	})
}
