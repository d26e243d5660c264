// Package throttle implements fixed-window rate limiting for
// authentication-sensitive operations. Counters live in a store shared by all
// instances (Redis in production) so throttling does not contend with
// credential reads.
package throttle

import (
	"context"
	"time"
)

// Well-known scopes. Limits are configured per scope on the Guard.
const (
	ScopeAuth      = "auth"      // unauthenticated endpoints, keyed by client IP
	ScopeSensitive = "sensitive" // authenticated sensitive ops, keyed by user id
	ScopeAPI       = "api"       // default authenticated traffic, keyed by user id
)

type Rule struct {
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Store increments the counter for key within its current window and returns
// the post-increment count plus the time remaining until the window resets.
// Implementations must make the increment atomic across concurrent callers.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type Guard struct {
	store Store
	rules map[string]Rule
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store, rules: map[string]Rule{}}
}

func (g *Guard) SetRule(scope string, limit int, window time.Duration) {
	g.rules[scope] = Rule{Limit: limit, Window: window}
}

// Check counts the request against the scope/identifier pair. A scope with no
// rule admits everything. Exceeding the limit rejects the request; the
// counter keeps growing so the window is never extended by rejected traffic.
func (g *Guard) Check(ctx context.Context, scope string, identifier string) (Decision, error) {
	rule, ok := g.rules[scope]
	if !ok || rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	count, reset, err := g.store.Incr(ctx, scope+":"+identifier, rule.Window)
	if err != nil {
		// Fail open: throttling is protection, not correctness. The caller
		// logs the store failure.
		return Decision{Allowed: true, Limit: rule.Limit}, err
	}

	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    count <= int64(rule.Limit),
		Limit:      rule.Limit,
		Remaining:  remaining,
		RetryAfter: reset,
	}, nil
}
