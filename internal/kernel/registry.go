package kernel

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
)

// Key selects a kernel. Data types match exactly; there is no promotion.
type Key struct {
	Device tensor.Device
	Op     op.OpType
	DType  tensor.DataType
}

// KeyOf returns the key an operator needs on device d.
func KeyOf(d tensor.Device, o op.Operator) Key {
	return Key{Device: d, Op: o.Type(), DType: o.DType()}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Device, k.Op, k.DType)
}

func (k Key) compare(other Key) int {
	return cmp.Or(
		cmp.Compare(k.Device, other.Device),
		cmp.Compare(k.Op, other.Op),
		cmp.Compare(k.DType, other.DType),
	)
}

// Entry is one registered kernel.
type Entry struct {
	Key    Key
	Kernel Kernel
	Name   string
}

// NoKernelError reports a lookup without a registered kernel.
type NoKernelError struct {
	Key Key
	// Name is the display name that was looked up, if the lookup was by name.
	Name string
	// Suggestion is the closest registered name, if any.
	Suggestion string
}

func (e *NoKernelError) Error() string {
	what := e.Key.String()
	if e.Name != "" {
		what = e.Name
	}
	msg := fmt.Sprintf("no kernel available for %s", what)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %s?)", e.Suggestion)
	}
	return msg
}

// Is matches ErrNoKernel.
func (e *NoKernelError) Is(target error) bool {
	return target == ErrNoKernel
}

// Registry maps keys to kernels. Entries are never removed.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	names   map[string]Key
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Key]Entry),
		names:   make(map[string]Key),
	}
}

var global = NewRegistry()

// Global returns the process-wide registry.
func Global() *Registry {
	return global
}

// Register adds a kernel under key with a display name. Registering a key
// or a name twice fails with ErrDuplicateKernel.
func (r *Registry) Register(key Key, k Kernel, name string) error {
	if k == nil {
		return Errorf(KindConfig, "Register", "nil kernel for %s", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[key]; ok {
		return Wrap(KindConfig, "Register", fmt.Sprintf("%s as %s: already held by %s", key, name, prev.Name), ErrDuplicateKernel)
	}
	if prev, ok := r.names[name]; ok {
		return Wrap(KindConfig, "Register", fmt.Sprintf("name %s for %s: already used by %s", name, key, prev), ErrDuplicateKernel)
	}
	r.entries[key] = Entry{Key: key, Kernel: k, Name: name}
	r.names[name] = key
	return nil
}

// MustRegister is Register for process start; a duplicate panics.
func (r *Registry) MustRegister(key Key, k Kernel, name string) {
	if err := r.Register(key, k, name); err != nil {
		panic(err)
	}
}

// Lookup returns the kernel registered for key or a *NoKernelError.
func (r *Registry) Lookup(key Key) (Kernel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[key]; ok {
		return e.Kernel, nil
	}
	return nil, &NoKernelError{Key: key, Suggestion: r.closest(key.String(), func(e Entry) string { return e.Key.String() })}
}

// Name returns the display name registered for key.
func (r *Registry) Name(key Key) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e.Name, ok
}

// LookupName finds an entry by display name.
func (r *Registry) LookupName(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if key, ok := r.names[name]; ok {
		return r.entries[key], nil
	}
	return Entry{}, &NoKernelError{Name: name, Suggestion: r.closest(name, func(e Entry) string { return e.Name })}
}

// closest returns the name of the entry whose label is nearest to want.
func (r *Registry) closest(want string, label func(Entry) string) string {
	best, score := "", -1
	for _, e := range r.sorted() {
		if d := levenshtein.ComputeDistance(want, label(e)); score < 0 || d < score {
			best, score = e.Name, d
		}
	}
	return best
}

// Entries returns every entry ordered by device, operator, then data type.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted()
}

func (r *Registry) sorted() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return a.Key.compare(b.Key) })
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
