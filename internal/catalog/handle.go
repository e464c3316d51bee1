package catalog

import "sync/atomic"

// Handle is a shared, swappable reference to the current catalog. Turn
// processing reads through it while the knowledge base manager replaces the
// catalog wholesale on load and delete. Readers always see either the old
// or the new catalog, never a partial one.
type Handle struct {
	ptr atomic.Pointer[Catalog]
}

// NewHandle returns a handle holding an empty catalog.
func NewHandle() *Handle {
	h := &Handle{}
	h.ptr.Store(New(nil))
	return h
}

// Get returns the current catalog. Never nil.
func (h *Handle) Get() *Catalog {
	return h.ptr.Load()
}

// Replace swaps in a new catalog. A nil argument installs an empty catalog.
func (h *Handle) Replace(c *Catalog) {
	if c == nil {
		c = New(nil)
	}
	h.ptr.Store(c)
}

// Clear resets the handle to an empty catalog.
func (h *Handle) Clear() {
	h.ptr.Store(New(nil))
}
