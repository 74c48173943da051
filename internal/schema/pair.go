package schema

// Pair carries the previous and next representation of one logical entity.
// Both sides always describe the same matched entity.
type Pair[T any] struct {
	previous T
	next     T
}

// NewPair builds a Pair from its two sides.
func NewPair[T any](previous, next T) Pair[T] {
	return Pair[T]{previous: previous, next: next}
}

// Previous returns the side taken from the previous snapshot.
func (p Pair[T]) Previous() T { return p.previous }

// Next returns the side taken from the next snapshot.
func (p Pair[T]) Next() T { return p.next }

// MapPair applies f to both sides.
func MapPair[T, U any](p Pair[T], f func(T) U) Pair[U] {
	return Pair[U]{previous: f(p.previous), next: f(p.next)}
}
