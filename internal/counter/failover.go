package counter

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// FailoverStore serves from a primary (shared) store and degrades to a
// process-local fallback when the primary is unreachable. Under failover,
// counters are per-instance only; that is an accepted degradation of a
// partial outage, logged as a warning rather than an error.
type FailoverStore struct {
	log      *slog.Logger
	primary  Store
	fallback Store

	degraded atomic.Bool
}

func NewFailoverStore(log *slog.Logger, primary, fallback Store) *FailoverStore {
	return &FailoverStore{
		log:      log,
		primary:  primary,
		fallback: fallback,
	}
}

func (s *FailoverStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := s.primary.Increment(ctx, key, window)
	if err != nil {
		s.warn("increment", err)
		return s.fallback.Increment(ctx, key, window)
	}
	s.recovered()
	return n, nil
}

func (s *FailoverStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.primary.Get(ctx, key)
	if err != nil {
		s.warn("get", err)
		return s.fallback.Get(ctx, key)
	}
	s.recovered()
	return n, nil
}

func (s *FailoverStore) Reset(ctx context.Context, keys ...string) error {
	err := s.primary.Reset(ctx, keys...)
	if err != nil {
		s.warn("reset", err)
	} else {
		s.recovered()
	}
	// Reset the fallback regardless so a recovery does not resurrect stale
	// per-instance counts.
	if ferr := s.fallback.Reset(ctx, keys...); ferr != nil {
		return ferr
	}
	return err
}

func (s *FailoverStore) ResetIn(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.primary.ResetIn(ctx, key)
	if err != nil {
		s.warn("reset_in", err)
		return s.fallback.ResetIn(ctx, key)
	}
	s.recovered()
	return d, nil
}

func (s *FailoverStore) warn(op string, err error) {
	// log the transition once per outage, not once per request
	if s.degraded.CompareAndSwap(false, true) {
		s.log.Warn("counter_store_degraded", "op", op, "error", err.Error())
	}
}

func (s *FailoverStore) recovered() {
	if s.degraded.CompareAndSwap(true, false) {
		s.log.Info("counter_store_recovered")
	}
}
