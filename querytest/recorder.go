// Package querytest provides a recording Gateway for tests.
package querytest

import (
	"sync"

	"github.com/probablyarth/connectreq"
)

// Entry is one command seen by a Recorder. Dispatch is set for request
// commands only.
type Entry struct {
	Type     connectreq.CommandType
	Key      connectreq.QueryKey
	Dispatch *connectreq.Dispatch
}

// Recorder is a Gateway that records every command in order. It is safe for
// concurrent use.
type Recorder struct {
	// AutoCommit makes Issue signal every dispatch as successful before
	// returning.
	AutoCommit bool

	mu      sync.Mutex
	entries []Entry
}

var _ connectreq.Gateway = (*Recorder)(nil)

// Issue records a request command.
func (r *Recorder) Issue(d *connectreq.Dispatch) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Type: connectreq.CommandRequest, Key: d.Key, Dispatch: d})
	r.mu.Unlock()

	if r.AutoCommit {
		d.PreCommit(nil)
	}
}

// Cancel records a cancel command.
func (r *Recorder) Cancel(key connectreq.QueryKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Type: connectreq.CommandCancel, Key: key})
}

// Entries returns a copy of every recorded command.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Len returns the number of recorded commands.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Requests returns the recorded request dispatches in order.
func (r *Recorder) Requests() []*connectreq.Dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*connectreq.Dispatch
	for _, e := range r.entries {
		if e.Type == connectreq.CommandRequest {
			out = append(out, e.Dispatch)
		}
	}
	return out
}

// Cancels returns the recorded cancelled keys in order.
func (r *Recorder) Cancels() []connectreq.QueryKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []connectreq.QueryKey
	for _, e := range r.entries {
		if e.Type == connectreq.CommandCancel {
			out = append(out, e.Key)
		}
	}
	return out
}

// Pop removes and returns the most recent request dispatch, or nil if none
// is recorded. Cancel entries are left in place.
func (r *Recorder) Pop() *connectreq.Dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Type == connectreq.CommandRequest {
			d := r.entries[i].Dispatch
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return d
		}
	}
	return nil
}

// Reset forgets every recorded command.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
