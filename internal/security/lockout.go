package security

import (
	"context"
	"log/slog"
	"time"

	"account-console/internal/counter"
	"account-console/internal/logging"
)

// Route names used in counter keys for the authentication endpoints. The
// administrative unlock depends on these matching what the handlers use.
const (
	RouteSignin = "signin"
	RouteSignup = "signup"
)

// LockoutKey builds the failed-attempt counter key for one identity.
func LockoutKey(email string) string {
	return "lockout:" + email
}

// LockoutTracker counts failed sign-ins per identity inside a time-boxed
// window. Reads fail open: when the counter store is unreachable an identity
// reports zero failures, because refusing every sign-in during a store outage
// would be a denial of service built into our own defenses.
type LockoutTracker struct {
	log    *slog.Logger
	store  counter.Store
	events *Dispatcher

	maxAttempts int
	window      time.Duration
}

func NewLockoutTracker(log *slog.Logger, store counter.Store, events *Dispatcher, maxAttempts int, window time.Duration) *LockoutTracker {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &LockoutTracker{
		log:         log,
		store:       store,
		events:      events,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// FailureCount returns recorded failures for email, or 0 when the store is
// unreachable.
func (t *LockoutTracker) FailureCount(ctx context.Context, email string) int64 {
	n, err := t.store.Get(ctx, LockoutKey(email))
	if err != nil {
		t.log.Warn("lockout_store_error", "op", "get", "error", err.Error())
		return 0
	}
	return n
}

// IsLocked reports whether email has reached the attempt limit, and how long
// until the window clears. Checked before credential verification so a locked
// account costs no verification work and leaks nothing through latency.
func (t *LockoutTracker) IsLocked(ctx context.Context, email string) (bool, time.Duration) {
	if t.FailureCount(ctx, email) < int64(t.maxAttempts) {
		return false, 0
	}

	retryIn, err := t.store.ResetIn(ctx, LockoutKey(email))
	if err != nil || retryIn <= 0 {
		retryIn = t.window
	}
	return true, retryIn
}

// RecordFailure notes a failed sign-in without blocking the caller. The write
// runs detached from request cancellation so a client disconnect cannot
// cancel it mid-flight and undercount abuse; a write error is logged and
// dropped.
func (t *LockoutTracker) RecordFailure(ctx context.Context, email string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		count, err := t.store.Increment(ctx, LockoutKey(email), t.window)
		if err != nil {
			t.log.Warn("lockout_store_error", "op", "increment", "error", err.Error())
			return
		}

		t.events.Emit(Event{
			Kind:    EventSigninFailure,
			Subject: logging.MaskIdentifier(email),
		})

		if count == int64(t.maxAttempts) {
			t.events.Emit(Event{
				Kind:    EventAccountLocked,
				Subject: logging.MaskIdentifier(email),
			})
		}
	}()
}

// Reset clears the failure counter, typically after a successful sign-in.
func (t *LockoutTracker) Reset(ctx context.Context, email string) error {
	return t.store.Reset(ctx, LockoutKey(email))
}

// AdminUnlock force-clears the lockout counter and both authentication rate
// limits for one identity in a single call. Exposed only behind the admin
// role: a self-service unlock would defeat the lockout entirely.
func (t *LockoutTracker) AdminUnlock(ctx context.Context, email string) error {
	err := t.store.Reset(ctx,
		RateLimitKey(RouteSignin, email),
		RateLimitKey(RouteSignup, email),
		LockoutKey(email),
	)
	if err != nil {
		return err
	}

	t.events.Emit(Event{
		Kind:    EventAdminUnlock,
		Subject: logging.MaskIdentifier(email),
	})
	return nil
}
