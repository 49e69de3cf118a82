package dispatch

// State is the dispatcher state of one request.
type State int

const (
	// StateNewChat: no chat exists yet, one new user message.
	StateNewChat State = iota
	// StateExistingChat: the chat exists, one new message; the pinned route wins.
	StateExistingChat
	// StateToolApprovalContinuation: the full transcript with at least one approved or denied call.
	StateToolApprovalContinuation
)

func (s State) String() string {
	switch s {
	case StateNewChat:
		return "NEW_CHAT"
	case StateExistingChat:
		return "EXISTING_CHAT"
	case StateToolApprovalContinuation:
		return "TOOL_APPROVAL_CONTINUATION"
	default:
		return "UNKNOWN"
	}
}

// Path is the execution path of a response.
type Path int

const (
	// PathModel streams the generic model with the composed tools.
	PathModel Path = iota
	// PathWorkflow runs the agent's single-shot workflow.
	PathWorkflow
)

func (p Path) String() string {
	if p == PathWorkflow {
		return "workflow"
	}
	return "model"
}
