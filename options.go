package connectreq

import (
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// settings holds the optional configuration shared by Coordinator and
// Connection.
type settings struct {
	observer Observer
	logger   logr.Logger
	newID    func() string
	withRef  bool
}

func newSettings(opts []Option) settings {
	s := settings{
		logger: logr.Discard(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a Coordinator created by New or a Connection created by
// Connect.
type Option func(*settings)

// WithObserver attaches an Observer that receives request, skip, cancel,
// force and settle events for the lifetime of the coordinator.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		s.observer = o
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithIDFunc replaces the generator of dispatch IDs, random UUIDs by
// default.
func WithIDFunc(fn func() string) Option {
	return func(s *settings) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithRef makes Connection.WrappedInstance expose the wrapped value.
// Coordinators ignore it.
func WithRef() Option {
	return func(s *settings) {
		s.withRef = true
	}
}
