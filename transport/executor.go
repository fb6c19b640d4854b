package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/probablyarth/connectreq"
)

// ErrClosed is signalled to dispatches issued after Close.
var ErrClosed = errors.New("transport: executor is closed")

// Commit is the signalled outcome of one dispatch.
type Commit struct {
	Dispatch *connectreq.Dispatch
	Response *Response
	Entities connectreq.Entities
	Err      error
}

// CommitFunc receives commits. It is called from the executor's goroutines
// and must be safe for concurrent use.
type CommitFunc func(c Commit)

// flight groups the in-flight fetches for one key under a shared context so
// that Cancel can abort all of them. A cancelled flight is replaced by a new
// generation on the next Issue.
type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64
	refs   int
}

// Executor is a connectreq.Gateway that performs requests with a FetchFunc.
// It is safe for concurrent use.
type Executor struct {
	fetch FetchFunc
	cfg   config

	group   singleflight.Group
	workers errgroup.Group
	ctx     context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	flights map[connectreq.QueryKey]*flight
	gen     uint64
	closed  bool
}

var _ connectreq.Gateway = (*Executor)(nil)

// NewExecutor creates an executor that performs requests with fetch.
func NewExecutor(fetch FetchFunc, opts ...Option) *Executor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Executor{
		fetch:   fetch,
		cfg:     cfg,
		ctx:     ctx,
		stop:    stop,
		flights: make(map[connectreq.QueryKey]*flight),
	}
}

// Issue starts fetching d on a new goroutine and returns immediately.
func (e *Executor) Issue(d *connectreq.Dispatch) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.cfg.logger.V(1).Info("dropping dispatch after close", "key", d.Key, "dispatch", d.ID)
		d.PreCommit(ErrClosed)
		return
	}
	f := e.flights[d.Key]
	if f == nil {
		ctx, cancel := context.WithCancel(e.ctx)
		e.gen++
		f = &flight{ctx: ctx, cancel: cancel, gen: e.gen}
		e.flights[d.Key] = f
	}
	f.refs++
	// Started under the lock so Close cannot begin waiting concurrently.
	e.workers.Go(func() error {
		defer e.release(d.Key, f)
		e.run(f, d)
		return nil
	})
	e.mu.Unlock()
}

// Cancel aborts every in-flight fetch for key. Unknown keys are ignored.
func (e *Executor) Cancel(key connectreq.QueryKey) {
	e.mu.Lock()
	f := e.flights[key]
	if f != nil {
		delete(e.flights, key)
	}
	e.mu.Unlock()

	if f == nil {
		return
	}
	f.cancel()
	e.cfg.logger.V(1).Info("cancelled", "key", key)
}

// InFlight returns the number of keys with at least one fetch in progress.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.flights)
}

// Close aborts every in-flight fetch and waits for the executor's goroutines
// to return, or for ctx to be done. Dispatches issued afterwards fail with
// ErrClosed.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stop()

	done := make(chan error, 1)
	go func() { done <- e.workers.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) release(key connectreq.QueryKey, f *flight) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if e.flights[key] == f {
		delete(e.flights, key)
	}
}

func (e *Executor) run(f *flight, d *connectreq.Dispatch) {
	resp, err := e.execute(f, d)
	if f.ctx.Err() != nil {
		e.cfg.logger.V(1).Info("discarding cancelled dispatch", "key", d.Key, "dispatch", d.ID)
		return
	}

	var entities connectreq.Entities
	if err == nil && d.Config.Transform != nil {
		entities, err = d.Config.Transform(resp.Body, resp.StatusCode)
		if err != nil {
			err = fmt.Errorf("transform %s: %w", d.Config.URL, err)
		}
	}
	if err != nil {
		e.cfg.logger.Error(err, "request failed", "key", d.Key, "dispatch", d.ID, "force", d.Config.Force)
	}

	d.PreCommit(err)
	if e.cfg.commit != nil {
		e.cfg.commit(Commit{Dispatch: d, Response: resp, Entities: entities, Err: err})
	}
}

// execute fetches d. Implicit dispatches for the same flight share one
// fetch; forced dispatches never do.
func (e *Executor) execute(f *flight, d *connectreq.Dispatch) (*Response, error) {
	if d.Config.Force {
		return e.fetchWithRetry(f.ctx, d)
	}

	leader := false
	v, err, _ := e.group.Do(fmt.Sprintf("%s#%d", d.Key, f.gen), func() (any, error) {
		leader = true
		return e.fetchWithRetry(f.ctx, d)
	})
	if !leader {
		e.cfg.logger.V(1).Info("shared in-flight fetch", "key", d.Key, "dispatch", d.ID)
		connectreq.Emit(e.cfg.observer, connectreq.EventData{Event: connectreq.EventDedup, Name: d.Name, Key: d.Key, DispatchID: d.ID})
	}
	resp, _ := v.(*Response)
	return resp, err
}

func (e *Executor) fetchWithRetry(ctx context.Context, d *connectreq.Dispatch) (*Response, error) {
	attempts := 1
	if d.Config.Retry && !d.Config.Force {
		attempts = e.cfg.attempts
	}

	delay := e.cfg.backoff
	for attempt := 1; ; attempt++ {
		connectreq.Emit(e.cfg.observer, connectreq.EventData{Event: connectreq.EventFetch, Name: d.Name, Key: d.Key, DispatchID: d.ID})
		resp, err := e.fetch(ctx, d.Config)
		if err == nil {
			if resp == nil {
				resp = &Response{}
			}
			return resp, nil
		}
		if attempt >= attempts || ctx.Err() != nil || !retryable(err) {
			return resp, err
		}

		e.cfg.logger.V(1).Info("retrying", "key", d.Key, "attempt", attempt, "delay", delay, "err", err.Error())
		connectreq.Emit(e.cfg.observer, connectreq.EventData{Event: connectreq.EventRetry, Name: d.Name, Key: d.Key, DispatchID: d.ID, Err: err})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
