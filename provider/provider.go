package provider

import "context"

// Descriptor identifies one installed implementation of capability T.
// Descriptors are created at discovery time and never change afterwards.
type Descriptor[T any] struct {
	// Name is the stable identity of the implementation.
	Name string
	// Priority orders implementations; higher wins.
	Priority int
	// Order is the position in which the implementation was discovered.
	// It breaks priority ties: first discovered wins.
	Order int
	// Provider is the implementation itself.
	Provider T
}

// Registration is one entry a Source reports during discovery.
type Registration[T any] struct {
	Name     string
	Priority int
	Provider T
}

// Source enumerates installed implementations of a capability. A catalog
// calls each of its sources exactly once, in the order they were added.
type Source[T any] func(ctx context.Context) ([]Registration[T], error)

// Static returns a Source that reports a fixed list of registrations.
func Static[T any](regs ...Registration[T]) Source[T] {
	return func(context.Context) ([]Registration[T], error) {
		out := make([]Registration[T], len(regs))
		copy(out, regs)
		return out, nil
	}
}
