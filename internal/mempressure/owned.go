package mempressure

import "weak"

// RegisterOwned registers fn against owner without keeping owner alive. Once
// owner is garbage collected the callback is skipped and dropped on the next
// RunCleanup.
func RegisterOwned[T any](m *Monitor, name string, owner *T, fn func(*T) error) (unregister func()) {
	if owner == nil || fn == nil {
		return func() {}
	}
	wp := weak.Make(owner)
	return m.add(name,
		func() error {
			o := wp.Value()
			if o == nil {
				return nil
			}
			return fn(o)
		},
		func() bool { return wp.Value() != nil },
	)
}
