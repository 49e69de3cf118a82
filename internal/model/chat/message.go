package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// PartType identifies the kind of a content block.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartFile      PartType = "file"
	PartTool      PartType = "tool"
)

// ToolState is the wire state of a tool part.
type ToolState string

const (
	ToolInputAvailable    ToolState = "input-available"
	ToolApprovalRequested ToolState = "approval-requested"
	ToolApprovalResponded ToolState = "approval-responded"
	ToolOutputAvailable   ToolState = "output-available"
	ToolOutputDenied      ToolState = "output-denied"
	ToolOutputError       ToolState = "output-error"
)

// ApprovalState is the human decision attached to a tool call.
type ApprovalState int

const (
	// ApprovalNone means the part carries no approval at all.
	ApprovalNone ApprovalState = iota
	ApprovalPending
	ApprovalApproved
	ApprovalDenied
)

func (s ApprovalState) String() string {
	switch s {
	case ApprovalPending:
		return "pending"
	case ApprovalApproved:
		return "approved"
	case ApprovalDenied:
		return "denied"
	default:
		return "none"
	}
}

// Approval is the response a user gave to an approval request.
type Approval struct {
	ID       string `json:"id"`
	Approved *bool  `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Part is one content block of a message.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`

	// file parts
	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Filename  string `json:"filename,omitempty"`

	// tool parts
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	Approval   *Approval       `json:"approval,omitempty"`
}

// ApprovalState derives the typed approval variant from the wire state.
func (p Part) ApprovalState() ApprovalState {
	if p.Type != PartTool {
		return ApprovalNone
	}
	switch p.State {
	case ToolApprovalRequested:
		return ApprovalPending
	case ToolApprovalResponded:
		if p.Approval != nil && p.Approval.Approved != nil && !*p.Approval.Approved {
			return ApprovalDenied
		}
		return ApprovalApproved
	case ToolOutputDenied:
		return ApprovalDenied
	default:
		return ApprovalNone
	}
}

// Message persists one turn of a chat.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId,omitempty"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type != PartText {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// IsContinuation reports whether a submission answers a tool approval request:
// true iff at least one part is approved or denied.
func IsContinuation(messages []Message) bool {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			switch part.ApprovalState() {
			case ApprovalApproved, ApprovalDenied:
				return true
			}
		}
	}
	return false
}

// LastUserText returns the plain text of the most recent user message.
func LastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
