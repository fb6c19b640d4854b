package transport_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probablyarth/connectreq"
	"github.com/probablyarth/connectreq/transport"
)

// ============================================================================
// Helpers
// ============================================================================

// gatedFetch blocks every fetch until release is closed or the context ends.
type gatedFetch struct {
	calls   atomic.Int32
	release chan struct{}
}

func newGatedFetch() *gatedFetch {
	return &gatedFetch{release: make(chan struct{})}
}

func (g *gatedFetch) fetch(ctx context.Context, cfg connectreq.QueryConfig) (*transport.Response, error) {
	g.calls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(cfg.URL)}, nil
	}
}

// sink records commits in arrival order.
type sink struct {
	mu      sync.Mutex
	commits []transport.Commit
	order   []string
}

func (s *sink) commit(c transport.Commit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, c)
	s.order = append(s.order, "commit "+c.Dispatch.ID)
}

func (s *sink) mark(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, event)
}

func (s *sink) snapshot() ([]transport.Commit, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Commit(nil), s.commits...), append([]string(nil), s.order...)
}

// events records observer events by type.
type events struct {
	mu     sync.Mutex
	counts map[connectreq.Event]int
}

func (e *events) On(data connectreq.EventData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counts == nil {
		e.counts = make(map[connectreq.Event]int)
	}
	e.counts[data.Event]++
}

func (e *events) count(ev connectreq.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[ev]
}

type hook struct {
	id   string
	done chan error
}

func newHook(id string) *hook {
	return &hook{id: id, done: make(chan error, 1)}
}

func dispatch(h *hook, url string, force bool) *connectreq.Dispatch {
	cfg := connectreq.QueryConfig{URL: url, Force: force, Retry: !force}
	key := connectreq.MustKeyOf(cfg)
	return connectreq.NewDispatch(h.id, "q", key, cfg, func(err error) { h.done <- err })
}

func waitHook(t *testing.T, h *hook) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch %s was never signalled", h.id)
		return nil
	}
}

func closeExecutor(t *testing.T, e *transport.Executor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))
}

// ============================================================================
// Tests
// ============================================================================

func TestExecutorSignalsThenCommits(t *testing.T) {
	s := &sink{}
	exec := transport.NewExecutor(
		func(ctx context.Context, cfg connectreq.QueryConfig) (*transport.Response, error) {
			return &transport.Response{StatusCode: http.StatusOK, Body: []byte("ok")}, nil
		},
		transport.WithLogger(testr.New(t)),
		transport.WithCommit(s.commit),
	)

	h := &hook{id: "a", done: make(chan error, 1)}
	cfg := connectreq.QueryConfig{URL: "http://foo.bar", Retry: true}
	exec.Issue(connectreq.NewDispatch("a", "q", connectreq.MustKeyOf(cfg), cfg, func(err error) {
		s.mark("precommit a")
		h.done <- err
	}))

	require.NoError(t, waitHook(t, h))
	closeExecutor(t, exec)

	commits, order := s.snapshot()
	assert.Equal(t, []string{"precommit a", "commit a"}, order)
	require.Len(t, commits, 1)
	assert.Equal(t, []byte("ok"), commits[0].Response.Body)
	assert.NoError(t, commits[0].Err)
}

func TestExecutorDeduplicatesImplicitRequests(t *testing.T) {
	g := newGatedFetch()
	obs := &events{}
	s := &sink{}
	exec := transport.NewExecutor(g.fetch, transport.WithObserver(obs), transport.WithCommit(s.commit))

	first, second := newHook("1"), newHook("2")
	exec.Issue(dispatch(first, "http://foo.bar", false))
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)
	exec.Issue(dispatch(second, "http://foo.bar", false))

	// Let the second dispatch join the in-flight fetch before it returns.
	time.Sleep(50 * time.Millisecond)
	close(g.release)

	require.NoError(t, waitHook(t, first))
	require.NoError(t, waitHook(t, second))
	closeExecutor(t, exec)

	assert.EqualValues(t, 1, g.calls.Load())
	assert.Equal(t, 1, obs.count(connectreq.EventDedup))
	commits, _ := s.snapshot()
	require.Len(t, commits, 2)
	assert.Same(t, commits[0].Response, commits[1].Response)
}

func TestExecutorForcedRequestsBypassDedup(t *testing.T) {
	g := newGatedFetch()
	exec := transport.NewExecutor(g.fetch)

	implicit, forced := newHook("implicit"), newHook("forced")
	exec.Issue(dispatch(implicit, "http://foo.bar", false))
	exec.Issue(dispatch(forced, "http://foo.bar", true))

	require.Eventually(t, func() bool { return g.calls.Load() == 2 }, time.Second, time.Millisecond)
	close(g.release)

	require.NoError(t, waitHook(t, implicit))
	require.NoError(t, waitHook(t, forced))
	closeExecutor(t, exec)
}

func TestExecutorCancelSuppressesSignal(t *testing.T) {
	g := newGatedFetch()
	s := &sink{}
	exec := transport.NewExecutor(g.fetch, transport.WithCommit(s.commit), transport.WithLogger(testr.New(t)))

	h := newHook("a")
	d := dispatch(h, "http://foo.bar", false)
	exec.Issue(d)
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, exec.InFlight())

	exec.Cancel(d.Key)
	closeExecutor(t, exec)

	select {
	case err := <-h.done:
		t.Fatalf("cancelled dispatch was signalled with %v", err)
	default:
	}
	commits, _ := s.snapshot()
	assert.Empty(t, commits)
	assert.Zero(t, exec.InFlight())
}

func TestExecutorCancelUnknownKey(t *testing.T) {
	exec := transport.NewExecutor(newGatedFetch().fetch)
	exec.Cancel("nope")
	assert.Zero(t, exec.InFlight())
	closeExecutor(t, exec)
}

func TestExecutorReissueAfterCancel(t *testing.T) {
	g := newGatedFetch()
	exec := transport.NewExecutor(g.fetch)

	stale, fresh := newHook("stale"), newHook("fresh")
	d := dispatch(stale, "http://foo.bar", false)
	exec.Issue(d)
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)
	exec.Cancel(d.Key)

	exec.Issue(dispatch(fresh, "http://foo.bar", false))
	require.Eventually(t, func() bool { return g.calls.Load() == 2 }, time.Second, time.Millisecond)
	close(g.release)

	require.NoError(t, waitHook(t, fresh))
	closeExecutor(t, exec)

	select {
	case <-stale.done:
		t.Fatal("cancelled dispatch was signalled")
	default:
	}
}

func TestExecutorRetry(t *testing.T) {
	flaky := func(failures int, status int) (transport.FetchFunc, *atomic.Int32) {
		var calls atomic.Int32
		return func(ctx context.Context, cfg connectreq.QueryConfig) (*transport.Response, error) {
			n := int(calls.Add(1))
			if n <= failures {
				resp := &transport.Response{StatusCode: status}
				return resp, &transport.StatusError{URL: cfg.URL, StatusCode: status}
			}
			return &transport.Response{StatusCode: http.StatusOK}, nil
		}, &calls
	}

	tests := []struct {
		name      string
		failures  int
		status    int
		force     bool
		wantCalls int32
		wantErr   bool
	}{
		{name: "temporary failures recover", failures: 2, status: http.StatusServiceUnavailable, wantCalls: 3},
		{name: "attempts exhausted", failures: 5, status: http.StatusTooManyRequests, wantCalls: 3, wantErr: true},
		{name: "permanent failure", failures: 1, status: http.StatusNotFound, wantCalls: 1, wantErr: true},
		{name: "forced is not retried", failures: 1, status: http.StatusBadGateway, force: true, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch, calls := flaky(tt.failures, tt.status)
			obs := &events{}
			exec := transport.NewExecutor(fetch,
				transport.WithRetry(3, time.Millisecond),
				transport.WithObserver(obs),
				transport.WithLogger(testr.New(t)),
			)

			h := newHook("a")
			exec.Issue(dispatch(h, "http://foo.bar", tt.force))
			err := waitHook(t, h)
			closeExecutor(t, exec)

			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, int(tt.wantCalls)-1, obs.count(connectreq.EventRetry))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var se *transport.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
		})
	}
}

func TestExecutorTransform(t *testing.T) {
	s := &sink{}
	exec := transport.NewExecutor(
		func(ctx context.Context, cfg connectreq.QueryConfig) (*transport.Response, error) {
			return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"id":1}`)}, nil
		},
		transport.WithCommit(s.commit),
	)

	ok := newHook("ok")
	cfg := connectreq.QueryConfig{
		URL: "http://foo.bar/ok",
		Transform: func(body []byte, status int) (connectreq.Entities, error) {
			return connectreq.Entities{"raw": string(body), "status": status}, nil
		},
	}
	exec.Issue(connectreq.NewDispatch("ok", "q", connectreq.MustKeyOf(cfg), cfg, func(err error) { ok.done <- err }))
	require.NoError(t, waitHook(t, ok))

	bad := newHook("bad")
	cfg = connectreq.QueryConfig{
		URL: "http://foo.bar/bad",
		Transform: func(body []byte, status int) (connectreq.Entities, error) {
			return nil, errors.New("unexpected shape")
		},
	}
	exec.Issue(connectreq.NewDispatch("bad", "q", connectreq.MustKeyOf(cfg), cfg, func(err error) { bad.done <- err }))
	err := waitHook(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected shape")

	closeExecutor(t, exec)

	commits, _ := s.snapshot()
	require.Len(t, commits, 2)
	byID := map[string]transport.Commit{}
	for _, c := range commits {
		byID[c.Dispatch.ID] = c
	}
	assert.Equal(t, connectreq.Entities{"raw": `{"id":1}`, "status": http.StatusOK}, byID["ok"].Entities)
	assert.Error(t, byID["bad"].Err)
}

func TestExecutorClose(t *testing.T) {
	g := newGatedFetch()
	exec := transport.NewExecutor(g.fetch)

	inflight := newHook("inflight")
	exec.Issue(dispatch(inflight, "http://foo.bar/a", false))
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)

	closeExecutor(t, exec)

	late := newHook("late")
	exec.Issue(dispatch(late, "http://foo.bar/b", false))
	assert.ErrorIs(t, waitHook(t, late), transport.ErrClosed)

	select {
	case <-inflight.done:
		t.Fatal("aborted dispatch was signalled")
	default:
	}
}

func TestExecutorWithCoordinator(t *testing.T) {
	var calls atomic.Int32
	exec := transport.NewExecutor(func(ctx context.Context, cfg connectreq.QueryConfig) (*transport.Response, error) {
		calls.Add(1)
		return &transport.Response{StatusCode: http.StatusOK}, nil
	})
	t.Cleanup(func() { closeExecutor(t, exec) })

	var derive connectreq.Deriver[string] = connectreq.Single(func(url string) *connectreq.QueryConfig {
		return &connectreq.QueryConfig{URL: url}
	})
	coord := connectreq.New(derive, exec)
	require.NoError(t, coord.Attach("http://foo.bar"))

	s, err := coord.ForceRequest()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.Zero(t, coord.Pending(connectreq.MustKeyOf(connectreq.QueryConfig{URL: "http://foo.bar"})))
}
