package agent

import "strings"

// ToolID names a tool an agent may call.
type ToolID string

const (
	ToolGetWeather         ToolID = "getWeather"
	ToolGetDirections      ToolID = "getDirections"
	ToolCreateDocument     ToolID = "createDocument"
	ToolUpdateDocument     ToolID = "updateDocument"
	ToolRequestSuggestions ToolID = "requestSuggestions"
	ToolSearchCollection   ToolID = "searchCollection"
)

// Workflow names a specialized single-shot generator that replaces the generic model call.
type Workflow string

const (
	WorkflowNone        Workflow = ""
	WorkflowMyCarMind   Workflow = "mycarmind"
	WorkflowNAMCCurator Workflow = "namc-curator"
)

// MemoryMode is the memory policy an agent declares in the catalog.
type MemoryMode string

const (
	// MemoryAuto lets project membership decide, falling back to the user's full memory.
	MemoryAuto MemoryMode = ""
	// MemoryRoute restricts memories to the agent's exact slash.
	MemoryRoute MemoryMode = "route"
	// MemoryNone disables memory for the agent.
	MemoryNone MemoryMode = "none"
)

// Config describes one agent: identity, route, declared tools and prompt overrides.
type Config struct {
	ID                   string     `json:"id" yaml:"id"`
	Name                 string     `json:"name" yaml:"name"`
	Slash                string     `json:"slash" yaml:"slash"`
	Description          string     `json:"description,omitempty" yaml:"description"`
	Tools                []ToolID   `json:"tools" yaml:"tools"`
	SystemPromptOverride string     `json:"-" yaml:"systemPrompt"`
	Workflow             Workflow   `json:"-" yaml:"workflow"`
	Memory               MemoryMode `json:"-" yaml:"memory"`
}

// IsSubroute reports whether the slash is hierarchical ("Project/Subroute").
func (c Config) IsSubroute() bool {
	return strings.Contains(c.Slash, "/")
}

// TopSegment returns the first path segment of the slash.
func (c Config) TopSegment() string {
	top, _, _ := strings.Cut(c.Slash, "/")
	return top
}

// Project returns the project this agent is a declared member of.
func (c Config) Project() Project {
	return ProjectOf(c.ID)
}

func (c Config) clone() Config {
	c.Tools = append([]ToolID(nil), c.Tools...)
	return c
}
