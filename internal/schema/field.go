package schema

// Field is a typed handle to one sync-annotated value. All mutations must go
// through Set (or Update) so the owning node records the dirty field.
type Field[T any] struct {
	node  *Node
	name  string
	value T
}

// Register attaches a typed field with the given policy and initial value.
// Registration order is the field iteration order. Panics on duplicate names,
// which are a programming error in the land definition.
func Register[T any](n *Node, name string, policy Policy, initial T) *Field[T] {
	field := &Field[T]{node: n, name: name, value: initial}
	if err := n.register(name, policy, func() any { return field.value }); err != nil {
		panic(err)
	}
	return field
}

// Name reports the registered field name.
func (f *Field[T]) Name() string { return f.name }

// Get returns the current value. Mutating a returned container directly
// bypasses dirty tracking; use Set or a tracked container instead.
func (f *Field[T]) Get() T { return f.value }

// Set replaces the value and marks the field dirty.
func (f *Field[T]) Set(v T) {
	f.value = v
	f.node.MarkDirty(f.name)
}

// Update applies fn to the current value, stores the result, and marks dirty.
func (f *Field[T]) Update(fn func(T) T) {
	if fn == nil {
		return
	}
	f.Set(fn(f.value))
}
