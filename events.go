package connectreq

import "fmt"

// Observer receives request lifecycle events. Implementations must be safe
// for concurrent use: transports emit events from their own goroutines.
type Observer interface {
	On(eventData EventData)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(eventData EventData)

// On calls f.
func (f ObserverFunc) On(eventData EventData) { f(eventData) }

// Event represents a lifecycle event type.
type Event int

const (
	// EventRequest is emitted when a non-forced request is issued.
	EventRequest Event = iota
	// EventSkip is emitted when an input change leaves a query's key
	// unchanged and no request is issued.
	EventSkip
	// EventCancel is emitted when a key is cancelled.
	EventCancel
	// EventForce is emitted when a forced request is issued.
	EventForce
	// EventSettle is emitted when a forced request's settlement completes.
	EventSettle
	// EventFetch is emitted when a transport performs a fetch.
	EventFetch
	// EventDedup is emitted when a transport shares an in-flight fetch
	// instead of performing a new one.
	EventDedup
	// EventRetry is emitted when a transport retries a failed fetch.
	EventRetry
)

var eventNames = [...]string{
	EventRequest: "request",
	EventSkip:    "skip",
	EventCancel:  "cancel",
	EventForce:   "force",
	EventSettle:  "settle",
	EventFetch:   "fetch",
	EventDedup:   "dedup",
	EventRetry:   "retry",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// EventData carries the details of a lifecycle event.
type EventData struct {
	Event      Event
	Name       string
	Key        QueryKey
	DispatchID string
	Err        error
}

// Emit delivers data to o. A nil observer is ignored and a panicking
// observer does not disrupt the caller.
func Emit(o Observer, data EventData) {
	if o == nil {
		return
	}
	defer func() { _ = recover() }()
	o.On(data)
}
