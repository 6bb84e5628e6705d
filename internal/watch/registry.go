package watch

import (
	"sort"
	"sync"
)

// Registry is an observable set of subscribers keyed by K. Subscribers of
// one key are notified independently of every other key.
type Registry[K comparable, V any] struct {
	mu     sync.Mutex
	subs   map[K]map[int]func(V)
	all    map[int]func(K, V)
	nextID int
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		subs: make(map[K]map[int]func(V)),
		all:  make(map[int]func(K, V)),
	}
}

// Subscribe registers fn for key.
func (r *Registry[K, V]) Subscribe(key K, fn func(V)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	set := r.subs[key]
	if set == nil {
		set = make(map[int]func(V))
		r.subs[key] = set
	}
	set[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if set := r.subs[key]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(r.subs, key)
				}
			}
		})
	}
}

// SubscribeAll registers fn for every key.
func (r *Registry[K, V]) SubscribeAll(fn func(K, V)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.all[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.all, id)
		})
	}
}

// Notify calls the subscribers of key, then the subscribers of every key,
// in subscription order. Callbacks run without the registry lock held.
func (r *Registry[K, V]) Notify(key K, v V) {
	r.mu.Lock()
	keyed := sortedFns(r.subs[key])
	all := sortedFns(r.all)
	r.mu.Unlock()

	for _, fn := range keyed {
		fn(v)
	}
	for _, fn := range all {
		fn(key, v)
	}
}

// Len returns the number of subscribers of key.
func (r *Registry[K, V]) Len(key K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[key])
}

// Keys returns every key with at least one subscriber.
func (r *Registry[K, V]) Keys() []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]K, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	return keys
}

func sortedFns[F any](m map[int]F) []F {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]F, len(ids))
	for i, id := range ids {
		fns[i] = m[id]
	}
	return fns
}
