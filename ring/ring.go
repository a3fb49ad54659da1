// Package ring implements the time-capacity deque used throughout the
// pipeline: the PGA buffer, the GbA amplitude ring, the onsite-magnitude
// tau-P/tau-C rings, and the VS consumer timeline are all instances of the
// same structure.
package ring

// Timestamped is implemented by anything a Ring can hold.
type Timestamped interface {
	Stamp() int64 // monotonic timestamp, in whatever unit the caller chooses (ns, ms, samples)
}

// Ring is a time-capacity deque: after every successful Feed, the invariant
// Back().Stamp() - Front().Stamp() <= Capacity holds. Capacity is expressed
// in the same unit as Stamp().
type Ring[T Timestamped] struct {
	capacity int64
	items    []T
}

// New returns an empty ring with the given capacity.
func New[T Timestamped](capacity int64) *Ring[T] {
	return &Ring[T]{capacity: capacity}
}

// Capacity returns the configured capacity.
func (r *Ring[T]) Capacity() int64 { return r.capacity }

// Len returns the number of elements currently held.
func (r *Ring[T]) Len() int { return len(r.items) }

// Front returns the oldest element. Panics if empty; callers must check Len.
func (r *Ring[T]) Front() T { return r.items[0] }

// Back returns the newest element. Panics if empty; callers must check Len.
func (r *Ring[T]) Back() T { return r.items[len(r.items)-1] }

// Items returns the current contents, oldest first. The returned slice
// aliases internal storage and must not be mutated by the caller.
func (r *Ring[T]) Items() []T { return r.items }

// Feed inserts e in timestamp order. If e.Stamp() < Back().Stamp() -
// capacity the insertion is rejected and false is returned (late-arriving,
// out-of-capacity sample). Otherwise e is inserted (ties keep insertion
// order: e is placed after any existing element with an equal timestamp),
// then the front is evicted until the capacity invariant holds.
func (r *Ring[T]) Feed(e T) bool {
	if len(r.items) > 0 {
		cutoff := r.items[len(r.items)-1].Stamp() - r.capacity
		if e.Stamp() < cutoff {
			return false
		}
	}
	r.insertOrdered(e)
	r.evict()
	return true
}

func (r *Ring[T]) insertOrdered(e T) {
	stamp := e.Stamp()
	// Fast path: new element is newest (the overwhelmingly common case for
	// in-order streaming feed), amortized O(1).
	if len(r.items) == 0 || stamp >= r.items[len(r.items)-1].Stamp() {
		r.items = append(r.items, e)
		return
	}
	// Late-arriving but still within capacity: find the insertion point
	// after the last element with an equal-or-smaller timestamp.
	i := len(r.items)
	for i > 0 && r.items[i-1].Stamp() > stamp {
		i--
	}
	r.items = append(r.items, e)
	copy(r.items[i+1:], r.items[i:len(r.items)-1])
	r.items[i] = e
}

func (r *Ring[T]) evict() {
	if len(r.items) == 0 {
		return
	}
	limit := r.items[len(r.items)-1].Stamp() - r.capacity
	i := 0
	for i < len(r.items) && r.items[i].Stamp() < limit {
		i++
	}
	if i > 0 {
		r.items = append(r.items[:0], r.items[i:]...)
	}
}

// EvictBefore drops every element with Stamp() strictly less than cutoff,
// independent of the capacity invariant. Used for wall-clock driven
// eviction (trigger cutoff, FinDer event expiry) that is not expressed in
// terms of the ring's own back element.
func (r *Ring[T]) EvictBefore(cutoff int64) {
	i := 0
	for i < len(r.items) && r.items[i].Stamp() < cutoff {
		i++
	}
	if i > 0 {
		r.items = append(r.items[:0], r.items[i:]...)
	}
}

// Reset empties the ring.
func (r *Ring[T]) Reset() { r.items = r.items[:0] }

// Select returns every element with Stamp() in [from, to).
func (r *Ring[T]) Select(from, to int64) []T {
	var out []T
	for _, it := range r.items {
		s := it.Stamp()
		if s >= from && s < to {
			out = append(out, it)
		}
	}
	return out
}
