package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/pkg/utils"
)

const clientIdleTTL = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-client token bucket keyed by remote address. It complements the
// per-user daily message cap and only guards the transport.
type Throttle struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewThrottle allows rps requests per second per client with the given burst.
// rps <= 0 disables throttling.
func NewThrottle(rps float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Handler answers over-limit requests with 429 rate_limit:chat.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.limit > 0 && !t.allow(clientKey(r)) {
			utils.RespondError(w, chaterr.New(chaterr.CodeRateLimitChat, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	c, ok := t.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[key] = c
		t.evictLocked(now)
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// evictLocked drops clients idle for longer than clientIdleTTL.
func (t *Throttle) evictLocked(now time.Time) {
	for key, c := range t.clients {
		if now.Sub(c.lastSeen) > clientIdleTTL {
			delete(t.clients, key)
		}
	}
}

// clientKey relies on chi's RealIP having rewritten RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
