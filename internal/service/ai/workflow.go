package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
)

const workflowHistoryLimit = 10

// ErrUnknownWorkflow is returned for a workflow without instructions.
var ErrUnknownWorkflow = fmt.Errorf("ai: unknown workflow")

// WorkflowInput is what a specialized workflow sees.
type WorkflowInput struct {
	Agent        agent.Config
	SystemPrompt string
	// Transcript ends with the newest user message.
	Transcript []chat.Message
}

// WorkflowRunner runs specialized single-shot generators. Each returns one complete text,
// there is no tool loop and no token streaming.
type WorkflowRunner struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewWorkflowRunner compiles the workflow chain on chatModel.
func NewWorkflowRunner(ctx context.Context, chatModel model.ChatModel) (*WorkflowRunner, error) {
	if chatModel == nil {
		return nil, ErrNoModel
	}
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow chain: %w", err)
	}
	return &WorkflowRunner{chain: runnable, logger: logging.Named("workflow")}, nil
}

// Run executes workflow wf and returns its whole answer.
func (r *WorkflowRunner) Run(ctx context.Context, wf agent.Workflow, in WorkflowInput) (string, error) {
	instructions, ok := workflowInstructions(wf, in.Agent)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownWorkflow, wf)
	}

	history := ToSchemaMessages(in.Transcript)
	query := ""
	if n := len(history); n > 0 && history[n-1].Role == schema.User {
		query = history[n-1].Content
		history = history[:n-1]
	}
	if len(history) > workflowHistoryLimit {
		history = history[len(history)-workflowHistoryLimit:]
	}

	msg, err := r.chain.Invoke(ctx, map[string]any{
		"system":  in.SystemPrompt + "\n\n" + instructions,
		"history": history,
		"query":   query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run %s workflow: %w", wf, err)
	}
	r.logger.Debug("workflow finished",
		zap.String("workflow", string(wf)),
		zap.String("agent", in.Agent.ID),
		zap.Int("length", len(msg.Content)))
	return strings.TrimSpace(msg.Content), nil
}

func workflowInstructions(wf agent.Workflow, cfg agent.Config) (string, bool) {
	switch wf {
	case agent.WorkflowMyCarMind:
		return myCarMindInstructions + "\n" + myCarMindRoles[cfg.ID], true
	case agent.WorkflowNAMCCurator:
		return namcCuratorInstructions, true
	default:
		return "", false
	}
}

const myCarMindInstructions = `Plan the user's trip in one complete answer:
1. Restate the origin and destination. Use the saved home location when no origin is given.
2. Give the route as numbered legs with rough distances and driving times.
3. Suggest stops for fuel, food and rest at least every two hours of driving.
4. End with one line of practical advice for the trip.`

var myCarMindRoles = map[string]string{
	"mycarmindato-driver":       "The user drives a private car.",
	"mycarmindato-trucker":      "The user drives a heavy truck: mention weight limits, truck stops and hours of service.",
	"mycarmindato-delivery":     "The user is a delivery driver: order stops to minimise backtracking.",
	"mycarmindato-timetraveler": "The user travels through time as well: add what the route looked like in another era.",
}

const namcCuratorInstructions = `Answer as the curator of the NAMC collection:
- Pick up to three items from the collection that fit the request.
- For each item give the title, a one line description and why it fits.
- Close with a question that invites the user to explore further.`
