package connectreq

import "sync"

// Connection binds a coordinator to a wrapped unit of work and to the
// mount, input change and unmount moments of its host. It remembers the
// previous inputs so the host only has to report the new ones.
type Connection[I any, W any] struct {
	coordinator *Coordinator[I]
	wrapped     W
	withRef     bool

	mu     sync.Mutex
	inputs I
}

// Connect creates a connection around wrapped. The wrapped value is only
// exposed by WrappedInstance when WithRef is among opts.
func Connect[I any, W any](derive Deriver[I], gateway Gateway, wrapped W, opts ...Option) *Connection[I, W] {
	s := newSettings(opts)
	return &Connection[I, W]{
		coordinator: New(derive, gateway, opts...),
		wrapped:     wrapped,
		withRef:     s.withRef,
	}
}

// Mount attaches the coordinator with the initial inputs.
func (c *Connection[I, W]) Mount(inputs I) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.coordinator.Attach(inputs); err != nil {
		return err
	}
	c.inputs = inputs
	return nil
}

// SetInputs reports new inputs. The previous inputs are kept on error.
func (c *Connection[I, W]) SetInputs(next I) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.coordinator.Update(c.inputs, next); err != nil {
		return err
	}
	c.inputs = next
	return nil
}

// Unmount detaches the coordinator.
func (c *Connection[I, W]) Unmount() {
	c.coordinator.Detach()
}

// ForceRequest forces every query derived from the current inputs.
// See Coordinator.ForceRequest.
func (c *Connection[I, W]) ForceRequest() (*Settlement, error) {
	return c.coordinator.ForceRequest()
}

// WrappedInstance returns the wrapped value, or false when the connection
// was not created with WithRef.
func (c *Connection[I, W]) WrappedInstance() (W, bool) {
	if !c.withRef {
		var zero W
		return zero, false
	}
	return c.wrapped, true
}

// Coordinator returns the underlying coordinator.
func (c *Connection[I, W]) Coordinator() *Coordinator[I] {
	return c.coordinator
}
