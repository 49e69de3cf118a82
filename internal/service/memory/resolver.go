// Package memory selects which approved memories a request may see and renders them
// into the context block handed to the model.
package memory

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
	"github.com/zhouzirui/agenthub/backend/internal/store"
)

// DefaultLimit caps the memories included in one context block.
const DefaultLimit = 12

// Scope is the memory strategy applied to a request.
type Scope int

const (
	// ScopeNone reads nothing: guests and agents that opt out.
	ScopeNone Scope = iota
	// ScopeProject reads memories shared by every member of the agent's project.
	ScopeProject
	// ScopeRoute reads memories saved under the agent's exact slash.
	ScopeRoute
	// ScopeUnscoped reads every approved memory of the user.
	ScopeUnscoped
)

func (s Scope) String() string {
	switch s {
	case ScopeProject:
		return "project"
	case ScopeRoute:
		return "route"
	case ScopeUnscoped:
		return "unscoped"
	default:
		return "none"
	}
}

// SelectScope picks exactly one strategy, first match wins.
func SelectScope(u user.User, cfg agent.Config) Scope {
	switch {
	case u.Guest() || cfg.Memory == agent.MemoryNone:
		return ScopeNone
	case cfg.Project().Spec().SharedMemory:
		return ScopeProject
	case cfg.Memory == agent.MemoryRoute:
		return ScopeRoute
	default:
		return ScopeUnscoped
	}
}

// Query builds the store query for scope. ok is false for ScopeNone.
func Query(scope Scope, ownerID string, cfg agent.Config, limit int) (store.MemoryQuery, bool) {
	q := store.MemoryQuery{OwnerID: ownerID, Limit: limit}
	switch scope {
	case ScopeProject:
		q.ProjectRoute = cfg.TopSegment()
	case ScopeRoute:
		q.Route = cfg.Slash
	case ScopeUnscoped:
	default:
		return store.MemoryQuery{}, false
	}
	return q, true
}

// Summarizer renders a user's entitlement.
type Summarizer interface {
	Summary(u user.User) string
}

// Context is the resolved context block.
type Context struct {
	Scope    Scope
	Memories []chat.MemoryRecord
	Home     *chat.HomeLocation
	Text     string
}

// Resolver fetches and formats memory context.
type Resolver struct {
	memories   store.Memories
	summarizer Summarizer
	limit      int
}

// NewResolver creates a resolver. summarizer may be nil.
func NewResolver(memories store.Memories, summarizer Summarizer, limit int) *Resolver {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Resolver{memories: memories, summarizer: summarizer, limit: limit}
}

// Resolve returns the context for u talking to cfg. ok is false when nothing applies.
func (r *Resolver) Resolve(ctx context.Context, u user.User, cfg agent.Config) (Context, bool, error) {
	out := Context{Scope: SelectScope(u, cfg)}

	g, gctx := errgroup.WithContext(ctx)

	if q, ok := Query(out.Scope, u.ID, cfg, r.limit); ok {
		g.Go(func() error {
			records, err := r.memories.ApprovedMemories(gctx, q)
			if err != nil {
				return fmt.Errorf("fetch %s memories: %w", out.Scope, err)
			}
			out.Memories = records
			return nil
		})
	}

	spec := cfg.Project().Spec()
	if spec.HomeLocation && !u.Guest() {
		g.Go(func() error {
			// Always the canonical route: home data never reaches a narrower subroute's scope.
			home, ok, err := r.memories.HomeLocation(gctx, u.ID, spec.Canonical)
			if err != nil {
				return fmt.Errorf("fetch home location: %w", err)
			}
			if ok {
				out.Home = &home
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Context{}, false, err
	}

	blocks := make([]string, 0, 3)
	if block := FormatMemories(out.Memories, r.limit); block != "" {
		blocks = append(blocks, block)
	}
	if out.Home != nil && strings.TrimSpace(out.Home.Text) != "" {
		blocks = append(blocks, "## Home location\n"+strings.TrimSpace(out.Home.Text))
	}
	if r.summarizer != nil && u.Elevated() {
		blocks = append(blocks, "## Entitlement\n"+r.summarizer.Summary(u))
	}

	if len(blocks) == 0 {
		return out, false, nil
	}
	out.Text = strings.Join(blocks, "\n\n")
	return out, true, nil
}

// FormatMemories renders at most limit records, in the order given (most recent first).
func FormatMemories(records []chat.MemoryRecord, limit int) string {
	if len(records) == 0 {
		return ""
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	var b strings.Builder
	written := 0
	b.WriteString("## What you remember about the user\n")
	for _, rec := range records {
		text := strings.TrimSpace(rec.RawText)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", truncate(text, 400))
		written++
	}
	if written == 0 {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
