package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
)

const deniedToolResult = "The user denied this tool call."

// ToSchemaMessages converts a stored transcript into model input.
// Assistant messages are split where text follows tool results so each tool call is
// answered before the model speaks again. Calls still waiting for a decision are left out.
func ToSchemaMessages(transcript []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(transcript))
	for _, msg := range transcript {
		switch msg.Role {
		case chat.RoleUser:
			if text := userContent(msg); text != "" {
				out = append(out, schema.UserMessage(text))
			}
		case chat.RoleSystem:
			if text := msg.Text(); text != "" {
				out = append(out, schema.SystemMessage(text))
			}
		case chat.RoleAssistant:
			out = append(out, assistantMessages(msg)...)
		}
	}
	return out
}

func userContent(msg chat.Message) string {
	var b strings.Builder
	for _, part := range msg.Parts {
		var piece string
		switch part.Type {
		case chat.PartText:
			piece = part.Text
		case chat.PartFile:
			piece = describeAttachment(part)
		}
		if piece == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(piece)
	}
	return b.String()
}

func describeAttachment(part chat.Part) string {
	name := part.Filename
	if name == "" {
		name = "file"
	}
	if part.MediaType != "" {
		return fmt.Sprintf("[Attachment: %s (%s) %s]", name, part.MediaType, part.URL)
	}
	return fmt.Sprintf("[Attachment: %s %s]", name, part.URL)
}

func assistantMessages(msg chat.Message) []*schema.Message {
	var (
		out     []*schema.Message
		content strings.Builder
		calls   []schema.ToolCall
		results []*schema.Message
	)
	flush := func() {
		if content.Len() == 0 && len(calls) == 0 {
			return
		}
		out = append(out, schema.AssistantMessage(content.String(), calls))
		out = append(out, results...)
		content.Reset()
		calls, results = nil, nil
	}

	for _, part := range msg.Parts {
		switch part.Type {
		case chat.PartText:
			if len(calls) > 0 {
				flush()
			}
			content.WriteString(part.Text)
		case chat.PartTool:
			result, ok := toolResult(part)
			if !ok {
				continue
			}
			calls = append(calls, schema.ToolCall{
				ID:   part.ToolCallID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      part.ToolName,
					Arguments: string(orEmptyObject(part.Input)),
				},
			})
			results = append(results, schema.ToolMessage(result, part.ToolCallID))
		}
	}
	flush()
	return out
}

// toolResult renders the answer the model sees for a finished call.
func toolResult(part chat.Part) (string, bool) {
	switch part.State {
	case chat.ToolOutputAvailable:
		return rawToText(part.Output), true
	case chat.ToolOutputError:
		return "Error: " + part.ErrorText, true
	case chat.ToolOutputDenied:
		return deniedToolResult, true
	default:
		return "", false
	}
}

func rawToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// toRaw keeps valid JSON as is and quotes anything else.
func toRaw(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
