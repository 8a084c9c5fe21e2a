package security

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded by the defense layer.
const (
	EventRateLimitDenied = "rate_limit_denied"
	EventAccountLocked   = "account_locked"
	EventSigninFailure   = "signin_failure"
	EventCSRFMissing     = "csrf_token_missing"
	EventCSRFMismatch    = "csrf_mismatch"
	EventCSRFInvalid     = "csrf_invalid"
	EventAdminUnlock     = "admin_unlock"
)

type Event struct {
	ID       string
	Kind     string
	Subject  string // masked email or client key
	Route    string
	ClientIP string
	At       time.Time
}

// Sink consumes security events. Implementations must tolerate being called
// from the dispatcher goroutine and swallow their own errors.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Emit(_ context.Context, ev Event) {
	s.Log.Info("security_event",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"subject", ev.Subject,
		"route", ev.Route,
		"client_ip", ev.ClientIP,
	)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// Dispatcher decouples event recording from the request path. Emit never
// blocks: when the buffer is full the event is counted as dropped instead of
// slowing down or failing the request that produced it.
type Dispatcher struct {
	sink Sink
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	now func() time.Time // test hook
}

func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}

	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
		now:  time.Now,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case ev := <-d.ch:
			d.sink.Emit(context.Background(), ev)
		case <-d.done:
			// drain what is already queued, then stop
			for {
				select {
				case ev := <-d.ch:
					d.sink.Emit(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// Emit queues ev for delivery. Nil-safe so callers can run without a
// dispatcher in tests. Events that cannot be delivered, whether the buffer
// is full or the dispatcher is shutting down, count as dropped.
func (d *Dispatcher) Emit(ev Event) {
	if d == nil {
		return
	}
	if d.closed.Load() {
		d.dropped.Add(1)
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = d.now()
	}

	select {
	case d.ch <- ev:
	case <-d.done:
		d.dropped.Add(1)
	default:
		d.dropped.Add(1)
	}
}

// Close drains queued events and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
