package common

import (
	"sort"
	"sync"
)

// --------------------------------------------------------------------------
// Request Context
// --------------------------------------------------------------------------

// Context is the string to string mapping sent with every request.
// A Context is treated as immutable once handed to a proxy or a call,
// all operations below return new maps.
type Context map[string]string

// Clone returns a copy of the context (nil stays nil)
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	clone := make(Context, len(c))
	for k, v := range c {
		clone[k] = v
	}
	return clone
}

// Merge returns a new context containing c overlaid with other.
// Keys present in both take the value from other.
func (c Context) Merge(other Context) Context {
	merged := make(Context, len(c)+len(other))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Keys returns the keys in sorted order. This is the order used on the wire.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both contexts hold the same entries. A nil context
// equals an empty one.
func (c Context) Equal(other Context) bool {
	if len(c) != len(other) {
		return false
	}
	for k, v := range c {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ResolveContext computes the context of a single invocation.
// Precedence from low to high: implicit, proxy, call. None of the inputs
// is modified.
func ResolveContext(implicit, proxy, call Context) Context {
	return implicit.Merge(proxy).Merge(call)
}

// --------------------------------------------------------------------------
// Implicit Context
// --------------------------------------------------------------------------

// ImplicitContext is the communicator wide context that is added to every
// outgoing request. It is safe for concurrent use.
type ImplicitContext struct {
	mu  sync.RWMutex
	ctx Context
}

// NewImplicitContext creates an empty implicit context
func NewImplicitContext() *ImplicitContext {
	return &ImplicitContext{ctx: Context{}}
}

// Get returns a snapshot of the current entries
func (ic *ImplicitContext) Get() Context {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.ctx.Clone()
}

// Set replaces all entries
func (ic *ImplicitContext) Set(ctx Context) {
	clone := ctx.Clone()
	if clone == nil {
		clone = Context{}
	}
	ic.mu.Lock()
	ic.ctx = clone
	ic.mu.Unlock()
}

// Put sets a single entry and returns the previous value (empty if unset)
func (ic *ImplicitContext) Put(key, value string) string {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	old := ic.ctx[key]
	ic.ctx[key] = value
	return old
}

// GetValue returns the value for key or the empty string
func (ic *ImplicitContext) GetValue(key string) string {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.ctx[key]
}

// ContainsKey reports whether key is set
func (ic *ImplicitContext) ContainsKey(key string) bool {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	_, ok := ic.ctx[key]
	return ok
}

// Remove deletes key and returns its previous value
func (ic *ImplicitContext) Remove(key string) string {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	old, ok := ic.ctx[key]
	if !ok {
		return ""
	}
	delete(ic.ctx, key)
	return old
}
