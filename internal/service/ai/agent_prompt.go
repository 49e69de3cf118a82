package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
)

// SessionType tells how the client renders the answer.
type SessionType string

const (
	SessionChat      SessionType = "chat"
	SessionVideoCall SessionType = "video-call"
)

// PromptTemplate defines the structure for agent prompts
type PromptTemplate struct {
	SystemPrompt string
	Hints        []string
	Rules        []string
}

// PromptContext is the per-request input of a system prompt.
type PromptContext struct {
	// Memory is the formatted memory block, empty when the scope resolved to nothing.
	Memory      string
	SessionType SessionType
}

// PromptManager manages prompt templates for the built-in agents
type PromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPromptManager creates a new prompt manager with default templates
func NewPromptManager() *PromptManager {
	pm := &PromptManager{templates: make(map[string]*PromptTemplate)}
	pm.loadDefaultTemplates()
	return pm
}

// Template returns the prompt template for an agent id.
func (pm *PromptManager) Template(agentID string) (*PromptTemplate, bool) {
	t, ok := pm.templates[agentID]
	return t, ok
}

// BuildSystemPrompt creates the system prompt of an agent. A catalog override replaces the
// template; memory and session instructions are appended in both cases.
func (pm *PromptManager) BuildSystemPrompt(cfg agent.Config, pc PromptContext) string {
	var b strings.Builder
	switch {
	case strings.TrimSpace(cfg.SystemPromptOverride) != "":
		b.WriteString(strings.TrimSpace(cfg.SystemPromptOverride))
	default:
		if t, ok := pm.Template(cfg.ID); ok {
			b.WriteString(renderTemplate(cfg, t))
		} else {
			b.WriteString(basicPrompt(cfg))
		}
	}

	if pc.Memory != "" {
		b.WriteString("\n\n")
		b.WriteString(pc.Memory)
	}
	if pc.SessionType == SessionVideoCall {
		b.WriteString("\n\n")
		b.WriteString(videoCallInstruction)
	}
	return b.String()
}

func renderTemplate(cfg agent.Config, t *PromptTemplate) string {
	var b strings.Builder
	b.WriteString(t.SystemPrompt)
	fmt.Fprintf(&b, "\n\nYou answer as %s (route /%s).", cfg.Name, cfg.Slash)
	if len(t.Hints) > 0 {
		b.WriteString("\n\nStyle:\n- ")
		b.WriteString(strings.Join(t.Hints, "\n- "))
	}
	if len(t.Rules) > 0 {
		b.WriteString("\n\nRules:\n- ")
		b.WriteString(strings.Join(t.Rules, "\n- "))
	}
	return b.String()
}

// basicPrompt creates a basic system prompt when no template is available
func basicPrompt(cfg agent.Config) string {
	prompt := fmt.Sprintf("You are %s, one of the agents of a conversational hub (route /%s).", cfg.Name, cfg.Slash)
	if cfg.Description != "" {
		prompt += " " + cfg.Description
	}
	return prompt + "\nKeep your responses concise and helpful."
}

const videoCallInstruction = "You are speaking in a live video call. Answer in two or three short spoken sentences, with no markdown, lists or code blocks."

// loadDefaultTemplates loads the default prompt templates for built-in agents
func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates[agent.DefaultID] = &PromptTemplate{
		SystemPrompt: "You are a friendly assistant! Keep your responses concise and helpful.",
		Rules: []string{
			"Use the document tools only when the user asks for content they will reuse or edit.",
			"Never update a document right after creating it; wait for feedback.",
		},
	}

	pm.templates["namc"] = &PromptTemplate{
		SystemPrompt: "You are the NAMC curator, the guide to a collection of media, lore and archives.",
		Hints: []string{
			"Speak like a museum curator: warm, precise, and curious",
			"Recommend items from the collection with one line on why they matter",
		},
		Rules: []string{
			"Search the collection before claiming an item exists",
			"Offer to write a document when the user wants a summary they can keep",
		},
	}

	pm.templates["namc-lore"] = &PromptTemplate{
		SystemPrompt: "You are the NAMC lore keeper. You explain the history and mythology behind the collection.",
		Hints:        []string{"Tell short stories rather than lists"},
	}

	pm.templates["mycarmindato"] = &PromptTemplate{
		SystemPrompt: "You are MyCarMindATO, a travel companion for people on the road.",
		Hints: []string{
			"Think in routes, stops, fuel and rest breaks",
			"Use the user's home location as the default starting point when it is known",
		},
		Rules: []string{"Never invent road closures or prices; say when you are unsure"},
	}

	pm.templates["brooksbears"] = &PromptTemplate{
		SystemPrompt: "You are Benjamin Bear of BrooksBears, a gentle storyteller for children and families.",
		Hints:        []string{"Keep the tone cozy and playful", "Use simple words"},
		Rules:        []string{"Stay kind and age appropriate at all times"},
	}

	pm.templates["incognito"] = &PromptTemplate{
		SystemPrompt: "You are a private assistant. Nothing from this conversation is remembered.",
	}
}
