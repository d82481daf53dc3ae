package sessionstate

import "sort"

// RequestKind identifies the remote round trip a waiter is correlated with.
type RequestKind int

const (
	KindScopes RequestKind = iota
	KindVariable
	KindWatch
	KindFullPath
	// KindScopesReady fires when a frame's scope snapshot has been created.
	KindScopesReady
)

// Key correlates a reply with its waiters. Subject holds the variable path or
// watch expression; it is empty for kinds that are keyed by frame alone.
type Key struct {
	Kind    RequestKind
	FrameID int
	Subject string
}

type subscription[V any] struct {
	id         int
	generation uint64
	once       bool
	cancelled  bool
	onValue    func(V)
	onExpire   func()
}

// Tracker holds the stack generation and the table of pending requests.
//
// A subscription captures the generation current when it is registered.
// When its key resolves, the value is delivered only if the generation is
// unchanged and the liveness check still passes; otherwise the subscription
// is removed and its expiry callback runs instead. Advance bumps the
// generation and expires every outstanding subscription at once.
//
// Tracker is not safe for concurrent use. It belongs to the session event loop.
type Tracker[K comparable, V any] struct {
	generation uint64
	live       func() bool
	waiters    map[K][]*subscription[V]
	nextID     int
}

// NewTracker creates a tracker. live may be nil, in which case only the
// generation is checked.
func NewTracker[K comparable, V any](live func() bool) *Tracker[K, V] {
	return &Tracker[K, V]{
		live:    live,
		waiters: map[K][]*subscription[V]{},
	}
}

// Generation returns the current generation.
func (t *Tracker[K, V]) Generation() uint64 {
	return t.generation
}

// Subscribe registers a waiter for key. A once subscription is removed after
// its first delivery; a persistent one stays until cancelled or expired.
// The returned function cancels the subscription without running onExpire;
// it is safe to call from inside the subscription's own callback.
func (t *Tracker[K, V]) Subscribe(key K, once bool, onValue func(V), onExpire func()) func() {
	t.nextID++
	sub := &subscription[V]{
		id:         t.nextID,
		generation: t.generation,
		once:       once,
		onValue:    onValue,
		onExpire:   onExpire,
	}
	t.waiters[key] = append(t.waiters[key], sub)

	return func() {
		sub.cancelled = true
		t.remove(key, sub.id)
	}
}

// Resolve delivers value to every waiter on key and returns how many
// received it. Stale waiters are expired instead.
func (t *Tracker[K, V]) Resolve(key K, value V) int {
	subs := t.waiters[key]
	if len(subs) == 0 {
		return 0
	}
	delete(t.waiters, key)

	delivered := 0
	var kept []*subscription[V]
	for _, sub := range subs {
		if sub.cancelled {
			continue
		}
		if t.stale(sub) {
			if sub.onExpire != nil {
				sub.onExpire()
			}
			continue
		}
		if sub.onValue != nil {
			sub.onValue(value)
		}
		delivered++
		if !sub.once && !sub.cancelled {
			kept = append(kept, sub)
		}
	}

	// Callbacks may have registered new waiters on the same key.
	if len(kept) > 0 || len(t.waiters[key]) > 0 {
		t.waiters[key] = append(kept, t.waiters[key]...)
	}
	return delivered
}

// Advance starts a new generation, expiring every outstanding waiter in
// registration order, and returns the new generation.
func (t *Tracker[K, V]) Advance() uint64 {
	t.generation++

	var expired []*subscription[V]
	for _, subs := range t.waiters {
		expired = append(expired, subs...)
	}
	t.waiters = map[K][]*subscription[V]{}

	sort.Slice(expired, func(i, j int) bool { return expired[i].id < expired[j].id })
	for _, sub := range expired {
		if sub.onExpire != nil {
			sub.onExpire()
		}
	}
	return t.generation
}

// Pending returns the number of outstanding waiters.
func (t *Tracker[K, V]) Pending() int {
	n := 0
	for _, subs := range t.waiters {
		n += len(subs)
	}
	return n
}

func (t *Tracker[K, V]) stale(sub *subscription[V]) bool {
	if sub.generation != t.generation {
		return true
	}
	return t.live != nil && !t.live()
}

func (t *Tracker[K, V]) remove(key K, id int) {
	subs := t.waiters[key]
	for i, sub := range subs {
		if sub.id == id {
			t.waiters[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(t.waiters[key]) == 0 {
		delete(t.waiters, key)
	}
}
