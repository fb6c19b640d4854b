package transport

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/probablyarth/connectreq"
)

// config holds optional configuration for an Executor.
type config struct {
	logger   logr.Logger
	observer connectreq.Observer
	commit   CommitFunc
	attempts int
	backoff  time.Duration
}

func defaultConfig() config {
	return config{
		logger:   logr.Discard(),
		attempts: 1,
		backoff:  100 * time.Millisecond,
	}
}

// Option configures an Executor.
type Option func(*config)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithObserver attaches an Observer that receives fetch, dedup and retry
// events.
func WithObserver(o connectreq.Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithCommit sets the sink that receives every signalled outcome, after the
// dispatch's pre-commit hook ran.
func WithCommit(fn CommitFunc) Option {
	return func(c *config) { c.commit = fn }
}

// WithRetry sets how many times a retryable request is attempted in total
// and the delay before the first retry. The delay doubles on every further
// retry. Only dispatches with Retry set are retried, which excludes forced
// ones. Values below 1 attempt are ignored.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *config) {
		if attempts >= 1 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}
