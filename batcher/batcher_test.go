package batcher

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan-Paranhos/AithosRag-sub003/cache"
	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/Nathan-Paranhos/AithosRag-sub003/transport"
)

type fakeExec struct {
	mu    sync.Mutex
	calls []transport.Request
	fn    func(transport.Request) (json.RawMessage, error)
}

func (f *fakeExec) Execute(ctx context.Context, req transport.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return json.RawMessage(`{"url":"` + req.URL + `"}`), nil
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExec) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.URL
	}
	return out
}

func slowWindow(size int, wait time.Duration) Option {
	return WithConfig(Config{
		Default:   EndpointConfig{Batchable: true, MaxBatchSize: size, MaxWaitTime: wait},
		Endpoints: map[string]EndpointConfig{"/health": {Batchable: false}},
	})
}

func TestCoalescingTimer(t *testing.T) {
	t.Run("Fires Once", func(t *testing.T) {
		var fired atomic.Int32
		timer := NewCoalescingTimer(20*time.Millisecond, func() { fired.Add(1) })
		require.True(t, timer.Arm())
		require.False(t, timer.Arm())
		require.True(t, timer.Armed())

		require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
		require.False(t, timer.Armed())
		time.Sleep(40 * time.Millisecond)
		require.Equal(t, int32(1), fired.Load())
	})

	t.Run("Cancel", func(t *testing.T) {
		var fired atomic.Int32
		timer := NewCoalescingTimer(20*time.Millisecond, func() { fired.Add(1) })
		timer.Arm()
		require.True(t, timer.Cancel())
		require.False(t, timer.Cancel())
		time.Sleep(50 * time.Millisecond)
		require.Equal(t, int32(0), fired.Load())

		require.True(t, timer.Arm())
		require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestEndpointFor(t *testing.T) {
	b := New(&fakeExec{},
		WithEndpoint("/api", EndpointConfig{Batchable: true, MaxBatchSize: 4}),
		WithEndpoint("/api/stream", EndpointConfig{Batchable: false}),
	)
	defer b.Stop()

	assert.Equal(t, 4, b.EndpointFor("/api/models").MaxBatchSize)
	assert.Equal(t, DefaultMaxWaitTime, b.EndpointFor("/api/models").MaxWaitTime)
	assert.False(t, b.EndpointFor("https://host/api/stream/1").Batchable)
	assert.False(t, b.EndpointFor("/health").Batchable)
	assert.True(t, b.EndpointFor("/other").Batchable)
	assert.Equal(t, DefaultMaxBatchSize, b.EndpointFor("/other").MaxBatchSize)
}

func TestIdenticalGETsShareOneCall(t *testing.T) {
	exec := &fakeExec{}
	b := New(exec, slowWindow(10, 200*time.Millisecond))
	defer b.Stop()

	const n = 5
	var wg sync.WaitGroup
	bodies := make([]json.RawMessage, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bodies[i], errs[i] = b.AddRequest(context.Background(), "/api/models", RequestOptions{}, PriorityNormal)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, exec.count())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"url":"/api/models"}`, string(bodies[i]))
	}
	stats := b.Stats()
	assert.Equal(t, int64(n), stats.Requests)
	assert.Equal(t, int64(1), stats.Batches)
	assert.Equal(t, int64(1), stats.NetworkCalls)
	assert.Equal(t, int64(n-1), stats.Deduplicated)
}

func TestFlushOnSize(t *testing.T) {
	exec := &fakeExec{}
	b := New(exec, slowWindow(3, time.Hour), WithConcurrency(1))
	defer b.Stop()

	var wg sync.WaitGroup
	for i, p := range []Priority{PriorityLow, PriorityHigh, PriorityNormal} {
		wg.Add(1)
		go func(p Priority) {
			defer wg.Done()
			body := json.RawMessage(`{"p":"` + p.String() + `"}`)
			_, err := b.AddRequest(context.Background(), "/api/messages", RequestOptions{Method: "post", Body: body}, p)
			assert.NoError(t, err)
		}(p)
		// arrivals are ordered so the batch fills in a known sequence
		require.Eventually(t, func() bool { return b.Stats().Requests > int64(i) }, time.Second, time.Millisecond)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not flush when full")
	}

	require.Equal(t, 3, exec.count())
	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, http.MethodPost, exec.calls[0].Method)
	assert.JSONEq(t, `{"p":"high"}`, string(exec.calls[0].Body))
	assert.JSONEq(t, `{"p":"normal"}`, string(exec.calls[1].Body))
	assert.JSONEq(t, `{"p":"low"}`, string(exec.calls[2].Body))
}

func TestSettleAll(t *testing.T) {
	exec := &fakeExec{fn: func(req transport.Request) (json.RawMessage, error) {
		if req.URL == "/api/broken" {
			return nil, errors.Transient("Execute", req.URL, errors.ErrServer)
		}
		return json.RawMessage(`"ok"`), nil
	}}
	b := New(exec, slowWindow(10, 30*time.Millisecond))
	defer b.Stop()

	var wg sync.WaitGroup
	var okErr, brokenErr error
	var okBody json.RawMessage
	wg.Add(2)
	go func() {
		defer wg.Done()
		okBody, okErr = b.AddRequest(context.Background(), "/api/fine", RequestOptions{}, PriorityNormal)
	}()
	go func() {
		defer wg.Done()
		_, brokenErr = b.AddRequest(context.Background(), "/api/broken", RequestOptions{}, PriorityNormal)
	}()
	wg.Wait()

	require.NoError(t, okErr)
	assert.Equal(t, `"ok"`, string(okBody))
	require.Error(t, brokenErr)
	assert.True(t, errors.IsTransient(brokenErr))
	assert.Equal(t, int64(1), b.Stats().Errors)
}

func TestUnbatchableExecutesImmediately(t *testing.T) {
	exec := &fakeExec{}
	b := New(exec, slowWindow(10, time.Hour))
	defer b.Stop()

	start := time.Now()
	body, err := b.AddRequest(context.Background(), "/health", RequestOptions{Method: http.MethodHead}, PriorityHigh)
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateIdle, b.State(BatchKey(http.MethodHead, "/health", false)))
	assert.Equal(t, int64(0), b.Stats().Batches)
	assert.Equal(t, int64(1), b.Stats().NetworkCalls)
}

func TestCacheIntegration(t *testing.T) {
	c, err := cache.New[json.RawMessage]("api", cache.WithCleanupInterval(0))
	require.NoError(t, err)
	defer c.Close()

	exec := &fakeExec{}
	b := New(exec, slowWindow(10, 10*time.Millisecond), WithCache(c))
	defer b.Stop()
	ctx := context.Background()

	t.Run("Hit Skips Network", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "GET /api/cached ", json.RawMessage(`{"cached":true}`)))
		body, err := b.AddRequest(ctx, "/api/cached", RequestOptions{}, PriorityNormal)
		require.NoError(t, err)
		assert.JSONEq(t, `{"cached":true}`, string(body))
		assert.Equal(t, 0, exec.count())
		assert.Equal(t, int64(1), b.Stats().CacheHits)
	})

	t.Run("Response Is Cached", func(t *testing.T) {
		_, err := b.AddRequest(ctx, "/api/fresh", RequestOptions{}, PriorityNormal)
		require.NoError(t, err)
		require.Equal(t, 1, exec.count())

		cached, ok := c.Get(ctx, "GET /api/fresh ")
		require.True(t, ok)
		assert.JSONEq(t, `{"url":"/api/fresh"}`, string(cached))

		_, err = b.AddRequest(ctx, "/api/fresh", RequestOptions{}, PriorityNormal)
		require.NoError(t, err)
		assert.Equal(t, 1, exec.count())
	})

	t.Run("Mutations Bypass Cache", func(t *testing.T) {
		opts := RequestOptions{Method: http.MethodPost, Body: json.RawMessage(`{}`)}
		_, err := b.AddRequest(ctx, "/api/fresh", opts, PriorityNormal)
		require.NoError(t, err)
		_, err = b.AddRequest(ctx, "/api/fresh", opts, PriorityNormal)
		require.NoError(t, err)
		assert.Equal(t, []string{"/api/fresh", "/api/fresh", "/api/fresh"}, exec.urls())
		assert.False(t, c.Has(ctx, "POST /api/fresh {}"))
	})
}

func TestStateAndStop(t *testing.T) {
	exec := &fakeExec{}
	b := New(exec, slowWindow(10, time.Hour))
	key := BatchKey(http.MethodGet, "/api/models", false)
	require.Equal(t, StateIdle, b.State(key))

	errCh := make(chan error, 1)
	go func() {
		_, err := b.AddRequest(context.Background(), "/api/models", RequestOptions{}, PriorityNormal)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return b.State(key) == StateQueuing }, time.Second, time.Millisecond)
	assert.Equal(t, 1, b.Stats().Pending)

	b.Stop()
	err := <-errCh
	require.ErrorIs(t, err, errors.ErrStopped)
	assert.Equal(t, 0, exec.count())
	assert.Equal(t, StateIdle, b.State(key))

	_, err = b.AddRequest(context.Background(), "/api/models", RequestOptions{}, PriorityNormal)
	require.ErrorIs(t, err, errors.ErrStopped)
	b.Stop()
}

// blockingExec holds every call until its context ends
type blockingExec struct {
	started chan struct{}
}

func (e *blockingExec) Execute(ctx context.Context, req transport.Request) (json.RawMessage, error) {
	e.started <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, errors.Transient("Execute", req.URL, errors.Join(errors.ErrAborted, ctx.Err()))
	case <-time.After(5 * time.Second):
		return json.RawMessage(`{}`), nil
	}
}

func TestStopAbortsInFlight(t *testing.T) {
	for _, url := range []string{"/api/slow", "/health"} {
		t.Run(url, func(t *testing.T) {
			exec := &blockingExec{started: make(chan struct{}, 1)}
			b := New(exec, slowWindow(1, time.Hour))

			errCh := make(chan error, 1)
			go func() {
				_, err := b.AddRequest(context.Background(), url, RequestOptions{}, PriorityNormal)
				errCh <- err
			}()
			<-exec.started

			stopped := time.Now()
			b.Stop()
			assert.Less(t, time.Since(stopped), time.Second)

			err := <-errCh
			require.Error(t, err)
			assert.True(t, errors.IsTransient(err))
			assert.True(t, errors.Is(err, errors.ErrAborted))
		})
	}
}

func TestCallerCancellation(t *testing.T) {
	b := New(&fakeExec{}, slowWindow(10, time.Hour))
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.AddRequest(ctx, "/api/models", RequestOptions{}, PriorityNormal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAborted))
	assert.True(t, errors.IsTransient(err))
}

func TestFlush(t *testing.T) {
	exec := &fakeExec{}
	b := New(exec, slowWindow(10, time.Hour))
	defer b.Stop()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.AddRequest(context.Background(), "/api/models", RequestOptions{}, PriorityNormal)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return b.Stats().Pending == 1 }, time.Second, time.Millisecond)
	b.Flush()
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, exec.count())
}
