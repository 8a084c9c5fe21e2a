package api

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

var timeoutResponse = []byte(`{"error":{"code":"` + codeTimeout + `","message":"request timed out"}}`)

// withTimeout bounds a request end to end, the way http.TimeoutHandler does.
// The wrapped handler runs in its own goroutine against a buffered writer.
// Stages that watch their context stop at the deadline on their own; stages
// that do not are cut off at the edge: the client gets the 504 at the
// deadline and whatever the stalled stage writes afterwards is discarded.
func withTimeout(next http.Handler, d time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		r = r.WithContext(ctx)

		tw := &timeoutWriter{header: make(http.Header)}
		done := make(chan struct{})
		panicked := make(chan any, 1)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			next.ServeHTTP(tw, r)
			close(done)
		}()

		select {
		case p := <-panicked:
			panic(p)
		case <-done:
			tw.flushTo(w)
		case <-ctx.Done():
			tw.markTimedOut()
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write(timeoutResponse)
		}
	})
}

// timeoutWriter buffers the handler's response until it either completes in
// time or misses the deadline. Late writes get http.ErrHandlerTimeout, same
// contract as the stdlib timeout handler.
type timeoutWriter struct {
	mu       sync.Mutex
	header   http.Header
	body     bytes.Buffer
	status   int
	timedOut bool
}

func (w *timeoutWriter) Header() http.Header { return w.header }

func (w *timeoutWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut || w.status != 0 {
		return
	}
	w.status = code
}

func (w *timeoutWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *timeoutWriter) markTimedOut() {
	w.mu.Lock()
	w.timedOut = true
	w.mu.Unlock()
}

func (w *timeoutWriter) flushTo(dst http.ResponseWriter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return
	}
	h := dst.Header()
	for k, v := range w.header {
		h[k] = v
	}
	if w.status == 0 {
		w.status = http.StatusOK
	}
	dst.WriteHeader(w.status)
	_, _ = dst.Write(w.body.Bytes())
}
