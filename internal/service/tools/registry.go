package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
)

// Entry binds a tool implementation and its approval policy.
type Entry struct {
	Tool tool.InvokableTool
	// NeedsApproval pauses the stream until a human approves or denies the call.
	NeedsApproval bool
}

// Registry maps tool ids to implementations. Registration happens at start-up.
type Registry struct {
	mu      sync.RWMutex
	entries map[agent.ToolID]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[agent.ToolID]Entry)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(id agent.ToolID, t tool.InvokableTool, needsApproval bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = Entry{Tool: t, NeedsApproval: needsApproval}
}

// Lookup finds a tool by id. Model tool calls are looked up by their function name.
func (r *Registry) Lookup(id agent.ToolID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Bind returns the ToolInfos for ids that have an implementation, in order, plus the ids skipped.
func (r *Registry) Bind(ctx context.Context, ids []agent.ToolID) ([]*schema.ToolInfo, []agent.ToolID, error) {
	infos := make([]*schema.ToolInfo, 0, len(ids))
	var missing []agent.ToolID
	for _, id := range ids {
		entry, ok := r.Lookup(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		info, err := entry.Tool.Info(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("tool %s info: %w", id, err)
		}
		infos = append(infos, info)
	}
	return infos, missing, nil
}
