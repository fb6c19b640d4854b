package connectreq

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Settlement is a one-shot completion handle. It is settled exactly once,
// either resolved (nil error) or rejected.
type Settlement struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newSettlement() *Settlement {
	return &Settlement{done: make(chan struct{})}
}

// Settled returns a settlement that has already completed with err.
func Settled(err error) *Settlement {
	s := newSettlement()
	s.settle(err)
	return s
}

// settle completes s. It reports false if s was already settled.
func (s *Settlement) settle(err error) bool {
	settled := false
	s.once.Do(func() {
		s.err = err
		close(s.done)
		settled = true
	})
	return settled
}

// Done returns a channel that is closed once s settles.
func (s *Settlement) Done() <-chan struct{} {
	return s.done
}

// Err returns the rejection error, nil if s resolved, or ErrPending if s
// has not settled yet.
func (s *Settlement) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return ErrPending
	}
}

// Wait blocks until s settles or ctx is done.
func (s *Settlement) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then runs fn on its own goroutine once s settles. The returned settlement
// completes with the same outcome as s after fn returns.
func (s *Settlement) Then(fn func(err error)) *Settlement {
	next := newSettlement()
	go func() {
		<-s.done
		fn(s.err)
		next.settle(s.err)
	}()
	return next
}

// All returns a settlement that completes once every one of ss completes.
// Rejections are combined; the result resolves only if all of ss resolved.
// With no arguments the result is already resolved.
func All(ss ...*Settlement) *Settlement {
	if len(ss) == 0 {
		return Settled(nil)
	}
	if len(ss) == 1 {
		return ss[0]
	}

	all := newSettlement()
	go func() {
		var errs error
		for _, s := range ss {
			<-s.done
			errs = multierr.Append(errs, s.err)
		}
		all.settle(errs)
	}()
	return all
}
