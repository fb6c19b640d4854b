package connectreq

import "sync"

// ResolverQueue holds, per key, the pending settlements of forced requests
// in the order they were pushed. Each Resolve settles the oldest pending
// settlement for the key, regardless of which dispatch signalled it.
//
// ResolverQueue is safe for concurrent use.
type ResolverQueue struct {
	mu     sync.Mutex
	queues map[QueryKey][]*Settlement
}

// NewResolverQueue creates an empty queue.
func NewResolverQueue() *ResolverQueue {
	return &ResolverQueue{queues: make(map[QueryKey][]*Settlement)}
}

// Push appends a new pending settlement to the tail of key's queue and
// returns it.
func (q *ResolverQueue) Push(key QueryKey) *Settlement {
	s := newSettlement()

	q.mu.Lock()
	q.queues[key] = append(q.queues[key], s)
	q.mu.Unlock()

	return s
}

// Resolve pops the head of key's queue and settles it with err. The key is
// dropped once its queue is empty. Resolve reports false if nothing was
// pending for key.
func (q *ResolverQueue) Resolve(key QueryKey, err error) bool {
	q.mu.Lock()
	pending := q.queues[key]
	if len(pending) == 0 {
		q.mu.Unlock()
		return false
	}

	head := pending[0]
	pending[0] = nil
	if len(pending) == 1 {
		delete(q.queues, key)
	} else {
		q.queues[key] = pending[1:]
	}
	q.mu.Unlock()

	head.settle(err)
	return true
}

// Len returns the number of pending settlements for key.
func (q *ResolverQueue) Len(key QueryKey) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[key])
}

// Size returns the number of keys with at least one pending settlement.
func (q *ResolverQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}
