package device

import "fmt"

// Workspace is the single grow-only scratch buffer of a context. A buffer
// returned by Get stays valid until a later Get asks for more bytes.
type Workspace struct {
	alloc Allocator
	buf   Buffer
	grows int
}

// NewWorkspace creates an empty workspace drawing from alloc.
func NewWorkspace(alloc Allocator) *Workspace {
	return &Workspace{alloc: alloc}
}

// Get returns a buffer of at least size bytes, replacing the current one
// when it is too small. On failure the workspace is left empty.
func (w *Workspace) Get(size int) (Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("workspace: negative size %d", size)
	}
	if w.buf != nil && w.buf.Len() >= size {
		return w.buf, nil
	}

	w.alloc.Free(w.buf)
	w.buf = nil
	buf, err := w.alloc.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("workspace of %d bytes: %w", size, err)
	}
	w.buf = buf
	w.grows++
	return buf, nil
}

// Size returns the current capacity in bytes.
func (w *Workspace) Size() int {
	if w.buf == nil {
		return 0
	}
	return w.buf.Len()
}

// Grows counts reallocations.
func (w *Workspace) Grows() int { return w.grows }

// Release frees the buffer.
func (w *Workspace) Release() {
	w.alloc.Free(w.buf)
	w.buf = nil
}
