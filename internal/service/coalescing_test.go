package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// TestRequestCoalescer_GetOrDo_ConcurrentRequests verifies that concurrent callers for one key
// share a single call and all receive its result.
func TestRequestCoalescer_GetOrDo_ConcurrentRequests(t *testing.T) {
	coalescer := newRequestCoalescer[models.Current](5 * time.Second)
	var calls int32
	release := make(chan struct{})

	fn := func(ctx context.Context) (models.Current, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return models.Current{AQI: 42}, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]models.Current, n)
	errs := make([]error, n)
	shared := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], shared[idx], errs[idx] = coalescer.GetOrDo(context.Background(), "37.7749,-122.4194", fn)
		}(i)
	}
	// Give every goroutine time to join before the call completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	leaders := 0
	for i := range results {
		if errs[i] != nil {
			t.Errorf("request %d error = %v, want nil", i, errs[i])
		}
		if results[i].AQI != 42 {
			t.Errorf("request %d AQI = %d, want 42", i, results[i].AQI)
		}
		if !shared[i] {
			leaders++
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fn call count = %d, want 1", got)
	}
	if leaders != 1 {
		t.Errorf("leaders = %d, want 1", leaders)
	}
	if got := coalescer.inFlightCount(); got != 0 {
		t.Errorf("inFlightCount() = %d, want 0 after completion", got)
	}
}

// TestRequestCoalescer_GetOrDo_ErrorPropagation verifies that the shared call's error reaches every caller.
func TestRequestCoalescer_GetOrDo_ErrorPropagation(t *testing.T) {
	coalescer := newRequestCoalescer[models.Forecast](5 * time.Second)
	wantErr := errors.New("api failure")
	release := make(chan struct{})

	fn := func(ctx context.Context) (models.Forecast, error) {
		<-release
		return models.Forecast{}, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, errs[idx] = coalescer.GetOrDo(context.Background(), "k", fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("request %d error = %v, want %v", i, err, wantErr)
		}
	}
}

// TestRequestCoalescer_GetOrDo_CallerCancelDoesNotFailOthers verifies that a leader whose context
// ends early gets ctx.Err() while a follower still receives the result.
func TestRequestCoalescer_GetOrDo_CallerCancelDoesNotFailOthers(t *testing.T) {
	coalescer := newRequestCoalescer[models.Current](5 * time.Second)
	release := make(chan struct{})
	var sawCancel int32

	fn := func(ctx context.Context) (models.Current, error) {
		select {
		case <-release:
			return models.Current{AQI: 7}, nil
		case <-ctx.Done():
			atomic.StoreInt32(&sawCancel, 1)
			return models.Current{}, ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := coalescer.GetOrDo(leaderCtx, "k", fn)
		leaderErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	followerDone := make(chan models.Current, 1)
	go func() {
		res, shared, err := coalescer.GetOrDo(context.Background(), "k", fn)
		if err != nil || !shared {
			t.Errorf("follower GetOrDo() = (shared=%v, err=%v), want shared result", shared, err)
		}
		followerDone <- res
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", err)
	}
	close(release)
	if res := <-followerDone; res.AQI != 7 {
		t.Errorf("follower AQI = %d, want 7", res.AQI)
	}
	if atomic.LoadInt32(&sawCancel) != 0 {
		t.Error("shared call observed the leader's cancellation")
	}
}

// TestRequestCoalescer_GetOrDo_KeepsContextValues verifies that the detached call still sees
// request-scoped values such as the correlation id.
func TestRequestCoalescer_GetOrDo_KeepsContextValues(t *testing.T) {
	coalescer := newRequestCoalescer[string](time.Second)
	ctx := observability.WithCorrelationID(context.Background(), "req-123")

	got, _, err := coalescer.GetOrDo(ctx, "k", func(ctx context.Context) (string, error) {
		return observability.CorrelationID(ctx), nil
	})
	if err != nil {
		t.Fatalf("GetOrDo() error = %v", err)
	}
	if got != "req-123" {
		t.Errorf("correlation id in call = %q, want req-123", got)
	}
}

// TestRequestCoalescer_GetOrDo_TimeoutBoundsCall verifies that the coalescer timeout cancels a
// call that never returns on its own.
func TestRequestCoalescer_GetOrDo_TimeoutBoundsCall(t *testing.T) {
	coalescer := newRequestCoalescer[int](30 * time.Millisecond)

	_, _, err := coalescer.GetOrDo(context.Background(), "k", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetOrDo() error = %v, want context.DeadlineExceeded", err)
	}
}

// TestRequestCoalescer_GetOrDo_DifferentKeys verifies that distinct keys never coalesce.
func TestRequestCoalescer_GetOrDo_DifferentKeys(t *testing.T) {
	coalescer := newRequestCoalescer[int](5 * time.Second)
	var calls int32

	fn := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = coalescer.GetOrDo(context.Background(), key, fn)
		}(fmt.Sprintf("key-%d", i))
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 5 {
		t.Errorf("fn call count = %d, want 5", got)
	}
}
