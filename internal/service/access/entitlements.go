package access

import (
	"context"
	"fmt"
	"time"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
)

// Window is the period the message cap covers.
const Window = 24 * time.Hour

// Entitlements maps plans to their daily message cap.
type Entitlements map[user.Plan]int

// DefaultEntitlements are the caps applied when nothing is configured.
func DefaultEntitlements() Entitlements {
	return Entitlements{
		user.PlanGuest:    20,
		user.PlanFree:     100,
		user.PlanPro:      1000,
		user.PlanFounders: 5000,
	}
}

// MaxMessagesPerDay returns the plan's cap, falling back to the free plan.
func (e Entitlements) MaxMessagesPerDay(plan user.Plan) int {
	if n, ok := e[plan]; ok {
		return n
	}
	return e[user.PlanFree]
}

// MessageCounter counts a user's messages since a point in time.
type MessageCounter interface {
	CountUserMessages(ctx context.Context, userID string, since time.Time) (int, error)
}

// RateLimiter rejects users over their plan's 24h cap.
type RateLimiter struct {
	counter      MessageCounter
	entitlements Entitlements
	now          func() time.Time
}

// NewRateLimiter builds a limiter; nil entitlements use DefaultEntitlements.
func NewRateLimiter(counter MessageCounter, entitlements Entitlements) *RateLimiter {
	if entitlements == nil {
		entitlements = DefaultEntitlements()
	}
	return &RateLimiter{counter: counter, entitlements: entitlements, now: time.Now}
}

// Check returns rate_limit:chat when the count in the last 24h exceeds the cap.
func (l *RateLimiter) Check(ctx context.Context, u user.User) error {
	count, err := l.counter.CountUserMessages(ctx, u.ID, l.now().Add(-Window))
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if count > l.entitlements.MaxMessagesPerDay(u.Plan) {
		return chaterr.New(chaterr.CodeRateLimitChat, "daily message limit reached")
	}
	return nil
}

// Summary describes the caller's entitlement for the context block.
func (l *RateLimiter) Summary(u user.User) string {
	return fmt.Sprintf("Plan: %s. Daily message allowance: %d.", u.Plan, l.entitlements.MaxMessagesPerDay(u.Plan))
}
