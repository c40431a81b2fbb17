package ctxutil

import (
	"context"
	"fmt"
)

// Key is a type-safe context key. Two keys with the same name but different
// type parameters are distinct, so collisions between packages are impossible.
type Key[T any] struct {
	name string
}

// NewKey creates a new typed context key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// String implements fmt.Stringer for debugging.
func (k Key[T]) String() string {
	return fmt.Sprintf("Key[%T](%s)", *new(T), k.name)
}

// Set stores a value in the context under the given key.
func Set[T any](ctx context.Context, key Key[T], value T) context.Context {
	return context.WithValue(ctx, key, value)
}

// Get retrieves a value from the context. The second return is false when the
// key is absent or holds a value of a different type.
func Get[T any](ctx context.Context, key Key[T]) (T, bool) {
	value, ok := ctx.Value(key).(T)
	return value, ok
}
