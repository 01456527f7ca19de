package service

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest tracks a single upstream request that multiple callers may wait for.
type inFlightRequest[T any] struct {
	done   chan struct{} // closed when result and err are set
	result T
	err    error
}

// requestCoalescer prevents cache stampede by coalescing concurrent requests for the same key.
// The upstream call runs on a context detached from the first caller, so one caller giving up
// does not fail the others.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest[T]
	timeout  time.Duration
}

// defaultCoalesceTimeout bounds the shared call when no timeout is configured.
const defaultCoalesceTimeout = 30 * time.Second

// newRequestCoalescer creates a requestCoalescer. timeout bounds the shared upstream call.
func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	if timeout <= 0 {
		timeout = defaultCoalesceTimeout
	}
	return &requestCoalescer[T]{
		inFlight: make(map[string]*inFlightRequest[T]),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight request for key, or starts one running fn. shared reports
// whether the caller joined a request started by someone else. Returns ctx.Err() if ctx ends
// before the result is ready; the request itself keeps running for the remaining waiters.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func(context.Context) (T, error)) (result T, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest[T]{done: make(chan struct{})}
		rc.inFlight[key] = req
	}
	rc.mu.Unlock()

	if !exists {
		// Detached: keeps request values (correlation id, logger) but not cancellation.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		go func() {
			defer cancel()
			res, err := fn(callCtx)

			rc.mu.Lock()
			delete(rc.inFlight, key)
			rc.mu.Unlock()

			req.result, req.err = res, err
			close(req.done)
		}()
	}

	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-ctx.Done():
		var zero T
		return zero, exists, ctx.Err()
	}
}

// inFlightCount returns the number of keys with a request in progress.
func (rc *requestCoalescer[T]) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
