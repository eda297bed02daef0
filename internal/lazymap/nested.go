package lazymap

import "context"

// NestedFactory builds the value for an (outer, inner) pair.
type NestedFactory[N, C comparable, V any] func(ctx context.Context, outer N, inner C) (V, error)

// Nested is a two-level lazy map. Reading an unknown outer key creates an
// empty inner Map bound to that key; reading an unknown inner key calls the
// factory with both keys.
type Nested[N, C comparable, V any] struct {
	outer   *Map[N, *Map[C, V]]
	factory NestedFactory[N, C, V]
}

func NewNested[N, C comparable, V any](factory NestedFactory[N, C, V]) *Nested[N, C, V] {
	n := &Nested[N, C, V]{factory: factory}
	n.outer = New(func(_ context.Context, outer N) (*Map[C, V], error) {
		return New(func(ctx context.Context, inner C) (V, error) {
			return n.factory(ctx, outer, inner)
		}), nil
	})
	return n
}

// Namespace returns the inner map for outer, creating it if needed.
func (n *Nested[N, C, V]) Namespace(outer N) *Map[C, V] {
	// the outer factory cannot fail
	inner, _ := n.outer.Get(context.Background(), outer)
	return inner
}

func (n *Nested[N, C, V]) Get(ctx context.Context, outer N, inner C) (V, error) {
	return n.Namespace(outer).Get(ctx, inner)
}

// Lookup reports a cached value without creating anything at either level.
func (n *Nested[N, C, V]) Lookup(outer N, inner C) (V, bool) {
	m, ok := n.outer.Lookup(outer)
	if !ok {
		var zero V
		return zero, false
	}
	return m.Lookup(inner)
}

func (n *Nested[N, C, V]) Set(outer N, inner C, v V) {
	n.Namespace(outer).Set(inner, v)
}

// Namespaces lists outer keys created so far, including empty ones.
func (n *Nested[N, C, V]) Namespaces() []N {
	return n.outer.Keys()
}

// Len counts cached inner values across all namespaces.
func (n *Nested[N, C, V]) Len() int {
	total := 0
	n.outer.Range(func(_ N, m *Map[C, V]) bool {
		total += m.Len()
		return true
	})
	return total
}

// Range visits every cached value until fn returns false.
func (n *Nested[N, C, V]) Range(fn func(N, C, V) bool) {
	keepGoing := true
	n.outer.Range(func(outer N, m *Map[C, V]) bool {
		m.Range(func(inner C, v V) bool {
			keepGoing = fn(outer, inner, v)
			return keepGoing
		})
		return keepGoing
	})
}
