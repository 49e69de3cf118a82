// Package tools composes the tool set of a request and binds tool ids to implementations.
package tools

import (
	"github.com/zhouzirui/agenthub/backend/internal/analysis/intent"
	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
)

// OverrideAgentID is the only agent whose tool set intent detectors may replace.
const OverrideAgentID = "namc"

// DocumentTools is swapped in when the user asks for a document.
var DocumentTools = []agent.ToolID{agent.ToolCreateDocument, agent.ToolUpdateDocument}

// Composition is the result of Compose.
type Composition struct {
	Tools []agent.ToolID
	// Overridden is true when an intent detector replaced the agent's declared tools.
	Overridden bool
	Intents    []string
}

// Composer picks the tool set of a request. It holds no state between calls.
type Composer struct {
	document   intent.Detector
	suggestion intent.Detector
}

// NewComposer wires the detectors; nil detectors never match.
func NewComposer(document, suggestion intent.Detector) *Composer {
	return &Composer{document: document, suggestion: suggestion}
}

// DefaultComposer uses the regex detectors from the intent package.
func DefaultComposer() *Composer {
	return NewComposer(intent.DocumentRequest, intent.SuggestionRequest)
}

// Compose starts from cfg.Tools and applies the intent overrides for the override agent.
// lastUserText must be the plain text of the most recent user message only.
func (c *Composer) Compose(cfg agent.Config, lastUserText string) Composition {
	out := Composition{Tools: append([]agent.ToolID(nil), cfg.Tools...)}
	if cfg.ID != OverrideAgentID || lastUserText == "" {
		return out
	}

	wantsDocument := matches(c.document, lastUserText)
	wantsSuggestion := matches(c.suggestion, lastUserText)
	if !wantsDocument && !wantsSuggestion {
		return out
	}

	out.Tools = append([]agent.ToolID(nil), DocumentTools...)
	out.Overridden = true
	if wantsDocument {
		out.Intents = append(out.Intents, c.document.Name())
	}
	if wantsSuggestion {
		out.Tools = append(out.Tools, agent.ToolRequestSuggestions)
		out.Intents = append(out.Intents, c.suggestion.Name())
	}
	return out
}

func matches(d intent.Detector, text string) bool {
	return d != nil && d.Match(text)
}
