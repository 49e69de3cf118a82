// Package access decides whether a caller may use a route and how many messages they may send.
package access

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
)

// RequiresElevatedAccess is true iff the slash is a subroute that is not on the allowlist.
// Top-level routes never require elevation.
func RequiresElevatedAccess(cfg agent.Config, freeRoutes []string) bool {
	return requiresElevation(cfg.Slash, freeRoutes)
}

func requiresElevation(slash string, freeRoutes []string) bool {
	slash = strings.Trim(strings.TrimSpace(slash), "/")
	if !strings.Contains(slash, "/") {
		return false
	}
	for _, free := range freeRoutes {
		if strings.EqualFold(strings.Trim(free, "/"), slash) {
			return false
		}
	}
	return true
}

// Gate applies RequiresElevatedAccess against a user's entitlement.
type Gate struct {
	freeRoutes []string
}

// NewGate creates a gate over the given free subroute allowlist.
func NewGate(freeRoutes []string) *Gate {
	return &Gate{freeRoutes: append([]string(nil), freeRoutes...)}
}

// DefaultGate uses the allowlists declared by the agent projects.
func DefaultGate() *Gate {
	return NewGate(agent.FreeSubroutes())
}

// Check returns forbidden:route when cfg needs elevation the user lacks.
// The same check runs on chat creation and on every later resolution.
func (g *Gate) Check(u user.User, cfg agent.Config) error {
	if !RequiresElevatedAccess(cfg, g.freeRoutes) || u.Elevated() {
		return nil
	}
	return chaterr.New(chaterr.CodeForbiddenRoute,
		fmt.Sprintf("%s is available to founders only", cfg.Slash))
}

// FreeRoutes returns a copy of the allowlist.
func (g *Gate) FreeRoutes() []string {
	return append([]string(nil), g.freeRoutes...)
}
