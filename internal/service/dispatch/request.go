package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/service/ai"
)

const (
	maxBodyBytes  = 4 << 20
	maxTextRunes  = 20000
	maxParts      = 32
	maxTranscript = 500
)

// Request is the POST /api/chat body.
type Request struct {
	ID                     string          `json:"id"`
	Message                *chat.Message   `json:"message,omitempty"`
	Messages               []chat.Message  `json:"messages,omitempty"`
	SelectedChatModel      string          `json:"selectedChatModel"`
	SelectedVisibilityType chat.Visibility `json:"selectedVisibilityType"`
	AtoID                  string          `json:"atoId,omitempty"`
	SessionType            ai.SessionType  `json:"sessionType,omitempty"`
}

// DecodeRequest parses and validates a body. Every failure is bad_request:api.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return Request{}, chaterr.New(chaterr.CodeBadRequestAPI, "Invalid request body.")
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks the shape of the request without touching any store.
func (r Request) Validate() error {
	bad := func(format string, args ...any) error {
		return chaterr.New(chaterr.CodeBadRequestAPI, fmt.Sprintf(format, args...))
	}

	if _, err := uuid.Parse(r.ID); err != nil {
		return bad("id must be a uuid")
	}
	if (r.Message == nil) == (len(r.Messages) == 0) {
		return bad("exactly one of message and messages is required")
	}
	if r.SelectedChatModel == "" {
		return bad("selectedChatModel is required")
	}
	if !r.SelectedVisibilityType.Valid() {
		return bad("selectedVisibilityType must be public or private")
	}
	if r.AtoID != "" {
		if _, err := uuid.Parse(r.AtoID); err != nil {
			return bad("atoId must be a uuid")
		}
	}
	switch r.SessionType {
	case "", ai.SessionChat, ai.SessionVideoCall:
	default:
		return bad("unknown sessionType %q", r.SessionType)
	}

	if r.Message != nil {
		if r.Message.Role != chat.RoleUser {
			return bad("message must have role user")
		}
		return validateMessage(*r.Message)
	}

	if len(r.Messages) > maxTranscript {
		return bad("messages exceeds %d entries", maxTranscript)
	}
	for _, m := range r.Messages {
		if err := validateMessage(m); err != nil {
			return err
		}
	}
	return nil
}

func validateMessage(m chat.Message) error {
	if _, err := uuid.Parse(m.ID); err != nil {
		return chaterr.New(chaterr.CodeBadRequestAPI, "message id must be a uuid")
	}
	switch m.Role {
	case chat.RoleUser, chat.RoleAssistant, chat.RoleSystem, chat.RoleTool:
	default:
		return chaterr.New(chaterr.CodeBadRequestAPI, fmt.Sprintf("unknown role %q", m.Role))
	}
	if len(m.Parts) == 0 || len(m.Parts) > maxParts {
		return chaterr.New(chaterr.CodeBadRequestAPI, "message must have between 1 and 32 parts")
	}
	for _, p := range m.Parts {
		switch p.Type {
		case chat.PartText, chat.PartReasoning:
			if utf8.RuneCountInString(p.Text) > maxTextRunes {
				return chaterr.New(chaterr.CodeBadRequestAPI, "text part too long")
			}
		case chat.PartFile:
			if p.URL == "" {
				return chaterr.New(chaterr.CodeBadRequestAPI, "file part needs a url")
			}
		case chat.PartTool:
			if p.ToolCallID == "" || p.ToolName == "" {
				return chaterr.New(chaterr.CodeBadRequestAPI, "tool part needs toolCallId and toolName")
			}
		default:
			return chaterr.New(chaterr.CodeBadRequestAPI, fmt.Sprintf("unknown part type %q", p.Type))
		}
	}
	return nil
}
