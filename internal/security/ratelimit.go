package security

import (
	"context"
	"log/slog"
	"time"

	"account-console/internal/counter"
)

// Policy is one rate tier: at most Max requests per fixed Window.
type Policy struct {
	Max    int
	Window time.Duration
}

type Result struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetIn   time.Duration
}

// RateLimitKey builds the counter key for one route/client pair. Kept as a
// function so administrative resets compute exactly the same strings.
func RateLimitKey(route, client string) string {
	return "rl:" + route + ":" + client
}

// RateLimiter counts requests per route and client over fixed windows. All
// requests inside one window share a counter; the window resets when the
// counter entry expires.
type RateLimiter struct {
	log    *slog.Logger
	store  counter.Store
	events *Dispatcher
}

func NewRateLimiter(log *slog.Logger, store counter.Store, events *Dispatcher) *RateLimiter {
	return &RateLimiter{log: log, store: store, events: events}
}

// Check records one request and decides whether it is allowed. Store failures
// fail open: blocking legitimate traffic because the counter backend is down
// would turn an outage into a denial of service.
func (l *RateLimiter) Check(ctx context.Context, route, client string, p Policy) Result {
	key := RateLimitKey(route, client)

	// Detached from request cancellation: a client that disconnects
	// mid-check must still be counted, or abusive traffic could undercount
	// itself by hanging up early.
	ctx = context.WithoutCancel(ctx)

	count, err := l.store.Increment(ctx, key, p.Window)
	if err != nil {
		l.log.Warn("rate_limit_store_error", "route", route, "error", err.Error())
		return Result{Allowed: true, Count: 0, Remaining: p.Max, ResetIn: p.Window}
	}

	resetIn, err := l.store.ResetIn(ctx, key)
	if err != nil || resetIn <= 0 {
		resetIn = p.Window
	}

	remaining := p.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   count <= int64(p.Max),
		Count:     count,
		Remaining: remaining,
		ResetIn:   resetIn,
	}

	if !res.Allowed {
		l.events.Emit(Event{
			Kind:     EventRateLimitDenied,
			Route:    route,
			ClientIP: client,
		})
	}

	return res
}
