package dispatch

import (
	"regexp"
	"strings"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
)

var triggerPattern = regexp.MustCompile(`^/([\p{L}\p{N}_-]+(?:/[\p{L}\p{N}_-]+)*)/?(?:\s+|$)`)

// Trigger is a leading slash route in a message, e.g. "/MyCarMindATO/Driver/".
type Trigger struct {
	Slash string
	// Rest is the message without the trigger.
	Rest string
}

// ParseTrigger extracts the slash trigger of text. ok is false when text has none. A leading
// slash followed by a token that does not form a route is bad_request:api.
func ParseTrigger(text string) (Trigger, bool, error) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, "/") {
		return Trigger{}, false, nil
	}
	m := triggerPattern.FindStringSubmatchIndex(trimmed)
	if m == nil {
		if len(trimmed) > 1 && isTokenStart(trimmed[1]) {
			return Trigger{}, false, chaterr.New(chaterr.CodeBadRequestAPI, "Unparseable slash trigger.")
		}
		// "/ ..." or "//" is just text
		return Trigger{}, false, nil
	}
	return Trigger{
		Slash: trimmed[m[2]:m[3]],
		Rest:  strings.TrimSpace(trimmed[m[1]:]),
	}, true, nil
}

func isTokenStart(b byte) bool {
	return b == '_' || b == '-' || b >= 0x80 ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// ResolveTrigger finds the agent for slash, dropping trailing segments until one matches.
// "MyCarMindATO/Unknown" resolves to "MyCarMindATO"; nothing matching yields ok=false.
func ResolveTrigger(agents agent.Store, slash string) (agent.Config, bool) {
	segments := strings.Split(strings.Trim(slash, "/"), "/")
	for n := len(segments); n > 0; n-- {
		if cfg, ok := agents.ResolveBySlash(strings.Join(segments[:n], "/")); ok {
			return cfg, true
		}
	}
	return agent.Config{}, false
}
