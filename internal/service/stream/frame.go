package stream

import "encoding/json"

// FrameType enumerates the UI message stream events.
type FrameType string

const (
	FrameStart               FrameType = "start"
	FrameTextStart           FrameType = "text-start"
	FrameTextDelta           FrameType = "text-delta"
	FrameTextEnd             FrameType = "text-end"
	FrameReasoningStart      FrameType = "reasoning-start"
	FrameReasoningDelta      FrameType = "reasoning-delta"
	FrameReasoningEnd        FrameType = "reasoning-end"
	FrameToolInputAvailable  FrameType = "tool-input-available"
	FrameToolApprovalRequest FrameType = "tool-approval-request"
	FrameToolOutputAvailable FrameType = "tool-output-available"
	FrameToolOutputError     FrameType = "tool-output-error"
	FrameToolOutputDenied    FrameType = "tool-output-denied"
	FrameChatTitle           FrameType = "data-chat-title"
	FrameError               FrameType = "error"
	FrameFinish              FrameType = "finish"
)

// Frame is one SSE event of the response stream.
type Frame struct {
	Type       FrameType       `json:"type"`
	ID         string          `json:"id,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ApprovalID string          `json:"approvalId,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	Data       any             `json:"data,omitempty"`
	Transient  bool            `json:"transient,omitempty"`
}
