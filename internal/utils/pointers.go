// Package utils holds small generic helpers shared by the gate packages.
package utils

// NonZeroPtr returns a pointer to a copy of v, or nil for the zero value.
// Used for optional fields where "unset" and "empty" mean the same thing.
func NonZeroPtr[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

// Value dereferences v, the zero value when v is nil
func Value[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}
