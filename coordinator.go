package connectreq

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// State is the lifecycle state of a Coordinator.
type State int

const (
	// StateUnattached is the state of a new coordinator.
	StateUnattached State = iota
	// StateAttached is entered by Attach. Requests are only issued here.
	StateAttached
	// StateDetached is terminal.
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateAttached:
		return "attached"
	case StateDetached:
		return "detached"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Coordinator owns the requests derived from one component's inputs.
//
// Attach, Update, Detach and ForceRequest are serialized by a single mutex
// and may be called from any goroutine. The gateway is called while that
// mutex is held, so a Gateway must not call back into the coordinator from
// Issue or Cancel; completion is reported through Dispatch.PreCommit, which
// only touches the resolver queue and may run on any goroutine, including
// synchronously inside Issue.
type Coordinator[I any] struct {
	derive    Deriver[I]
	gateway   Gateway
	resolvers *ResolverQueue
	settings  settings

	mu     sync.Mutex
	state  State
	inputs I
	active map[string]QueryKey
}

// New creates an unattached coordinator that derives configs with derive
// and sends commands to gateway.
func New[I any](derive Deriver[I], gateway Gateway, opts ...Option) *Coordinator[I] {
	return &Coordinator[I]{
		derive:    derive,
		gateway:   gateway,
		resolvers: NewResolverQueue(),
		settings:  newSettings(opts),
		active:    make(map[string]QueryKey),
	}
}

// query is a derived config with its name and key.
type query struct {
	name string
	key  QueryKey
	cfg  QueryConfig
}

// Attach derives configs from inputs and issues a request for each of them.
// On error nothing is issued and the coordinator stays unattached.
func (c *Coordinator[I]) Attach(inputs I) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUnattached {
		return usageError("attach", fmt.Errorf("%w (state=%s)", ErrAlreadyAttached, c.state))
	}

	queries, err := c.resolve("attach", inputs)
	if err != nil {
		return err
	}

	c.state = StateAttached
	c.inputs = inputs
	for _, q := range queries {
		c.request(q)
		c.active[q.name] = q.key
	}

	c.settings.logger.V(1).Info("attached", "queries", len(queries))
	return nil
}

// Update re-derives configs from next and reconciles them with the active
// queries by name: names that disappeared are cancelled, names whose key
// changed are cancelled and requested again, new names are requested, and
// names whose key is unchanged are left alone.
//
// On error nothing is issued or cancelled and the previous inputs are kept.
func (c *Coordinator[I]) Update(prev, next I) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAttached {
		return usageError("update", fmt.Errorf("%w (state=%s)", ErrNotAttached, c.state))
	}

	c.settings.logger.V(2).Info("inputs changed", "prev", prev, "next", next)

	queries, err := c.resolve("update", next)
	if err != nil {
		return err
	}

	c.inputs = next
	c.dropMissing(queries)
	for _, q := range queries {
		old, ok := c.active[q.name]
		switch {
		case !ok:
			c.request(q)
		case old != q.key:
			c.cancel(q.name, old)
			c.request(q)
		default:
			Emit(c.settings.observer, EventData{Event: EventSkip, Name: q.name, Key: q.key})
			continue
		}
		c.active[q.name] = q.key
	}
	return nil
}

// Detach cancels every active query and moves the coordinator to its
// terminal state. Only the first call has an effect. Cancellations are
// fire-and-forget: pending requests are not awaited.
func (c *Coordinator[I]) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDetached {
		return
	}
	c.state = StateDetached

	for _, name := range slices.Sorted(maps.Keys(c.active)) {
		c.cancel(name, c.active[name])
	}
	clear(c.active)

	c.settings.logger.V(1).Info("detached")
}

// ForceRequest re-derives configs from the current inputs and issues each
// one with Force set and Retry cleared, bypassing transport-side dedup.
//
// The returned settlement completes once every forced command has been
// signalled through Dispatch.PreCommit; it is rejected with the combined
// transport errors if any command failed. Forced calls against the same key
// settle in the order they were made. When no configs are derived the
// settlement is already resolved and nothing is issued.
//
// ForceRequest fails with a usage error unless the coordinator is attached.
// Forced queries become the active queries for later diffs.
func (c *Coordinator[I]) ForceRequest() (*Settlement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAttached {
		return nil, usageError("force", fmt.Errorf("%w (state=%s)", ErrNotAttached, c.state))
	}

	queries, err := c.resolve("force", c.inputs)
	if err != nil {
		return nil, err
	}

	c.dropMissing(queries)
	settlements := make([]*Settlement, 0, len(queries))
	for _, q := range queries {
		if old, ok := c.active[q.name]; ok && old != q.key {
			c.cancel(q.name, old)
		}
		settlements = append(settlements, c.force(q))
		c.active[q.name] = q.key
	}
	return All(settlements...), nil
}

// State returns the lifecycle state.
func (c *Coordinator[I]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Inputs returns the inputs the active queries were derived from.
func (c *Coordinator[I]) Inputs() I {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs
}

// Active returns a copy of the active queries, by name.
func (c *Coordinator[I]) Active() map[string]QueryKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.active)
}

// Pending returns the number of forced requests against key that have not
// been signalled yet.
func (c *Coordinator[I]) Pending(key QueryKey) int {
	return c.resolvers.Len(key)
}

// resolve derives and keys every config for inputs, sorted by name. It
// fails without side effects.
func (c *Coordinator[I]) resolve(op string, inputs I) ([]query, error) {
	configs, err := c.derive(inputs)
	if err != nil {
		return nil, derivationError(op, "", err)
	}

	queries := make([]query, 0, len(configs))
	for name, cfg := range configs {
		if cfg == nil {
			continue
		}
		key, err := KeyOf(*cfg)
		if err != nil {
			return nil, derivationError(op, name, err)
		}
		queries = append(queries, query{name: name, key: key, cfg: *cfg})
	}
	slices.SortFunc(queries, func(a, b query) int {
		return strings.Compare(a.name, b.name)
	})
	return queries, nil
}

// dropMissing cancels and forgets active names absent from queries.
func (c *Coordinator[I]) dropMissing(queries []query) {
	present := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		present[q.name] = struct{}{}
	}
	for _, name := range slices.Sorted(maps.Keys(c.active)) {
		if _, ok := present[name]; !ok {
			c.cancel(name, c.active[name])
			delete(c.active, name)
		}
	}
}

func (c *Coordinator[I]) request(q query) {
	d := NewDispatch(c.settings.newID(), q.name, q.key, q.cfg.withFlags(false, true), nil)
	c.settings.logger.V(1).Info("request", "name", q.name, "key", q.key, "url", q.cfg.URL, "dispatch", d.ID)
	Emit(c.settings.observer, EventData{Event: EventRequest, Name: q.name, Key: q.key, DispatchID: d.ID})
	c.gateway.Issue(d)
}

// force enqueues a resolver for q's key before issuing, so a gateway that
// signals synchronously still finds it.
func (c *Coordinator[I]) force(q query) *Settlement {
	s := c.resolvers.Push(q.key)

	id := c.settings.newID()
	d := NewDispatch(id, q.name, q.key, q.cfg.withFlags(true, false), func(err error) {
		c.settle(q.name, q.key, id, err)
	})
	c.settings.logger.V(1).Info("force", "name", q.name, "key", q.key, "url", q.cfg.URL, "dispatch", id)
	Emit(c.settings.observer, EventData{Event: EventForce, Name: q.name, Key: q.key, DispatchID: id})
	c.gateway.Issue(d)
	return s
}

func (c *Coordinator[I]) cancel(name string, key QueryKey) {
	c.settings.logger.V(1).Info("cancel", "name", name, "key", key)
	Emit(c.settings.observer, EventData{Event: EventCancel, Name: name, Key: key})
	c.gateway.Cancel(key)
}

// settle runs on the transport's goroutine and must not take c.mu.
func (c *Coordinator[I]) settle(name string, key QueryKey, id string, err error) {
	if err != nil {
		err = transportError(name, key, err)
		c.settings.logger.Error(err, "forced request failed", "dispatch", id)
	}
	if c.resolvers.Resolve(key, err) {
		Emit(c.settings.observer, EventData{Event: EventSettle, Name: name, Key: key, DispatchID: id, Err: err})
	}
}
