// Package arena maps stable integer handles to heap objects.
//
// Handles let tree edges be stored in plain atomic words and give the epoch
// reclamation scheme something explicit to retire. Lookups are lock-free;
// Alloc and Free serialize on a mutex.
//
// # Concurrency Model
//
// Get may run concurrently with Alloc and Free. A handle must not be passed
// to Get after it was freed: the arena hands freed handles out again,
// lowest first, so a stale Get could observe an unrelated object. Callers
// are expected to defer Free until no reader can still hold the handle.
package arena

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	pageBits = 12
	pageSize = 1 << pageBits // 4096
	pageMask = pageSize - 1

	// MaxHandles bounds the handle space.
	MaxHandles = 1<<32 - 1
)

// Handle identifies an object stored in an Arena. The zero Handle is never
// allocated.
type Handle uint32

// Nil is the reserved empty handle.
const Nil Handle = 0

type page[T any] struct {
	slots [pageSize]atomic.Pointer[T]
}

// Arena is a handle table for objects of type T.
type Arena[T any] struct {
	mu    sync.Mutex // Protects free, next and page growth
	pages atomic.Pointer[[]*page[T]]
	free  *roaring.Bitmap
	next  uint64
	live  atomic.Int64
}

// New creates an empty Arena.
func New[T any]() *Arena[T] {
	a := &Arena[T]{
		free: roaring.New(),
		next: 1, // Handle 0 is Nil
	}
	p := make([]*page[T], 0, 16)
	a.pages.Store(&p)
	return a
}

// Alloc stores v and returns its handle. It panics when the handle space is
// exhausted.
func (a *Arena[T]) Alloc(v *T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var h Handle
	if !a.free.IsEmpty() {
		x := a.free.Minimum()
		a.free.Remove(x)
		h = Handle(x)
	} else {
		if a.next > MaxHandles {
			panic("arena: handle space exhausted")
		}
		h = Handle(a.next)
		a.next++
	}

	pages := a.ensurePageLocked(int(h >> pageBits))
	pages[h>>pageBits].slots[h&pageMask].Store(v)
	a.live.Add(1)
	return h
}

// ensurePageLocked grows the page table so that pageIdx is addressable and
// returns the current table.
func (a *Arena[T]) ensurePageLocked(pageIdx int) []*page[T] {
	pages := *a.pages.Load()
	if pageIdx < len(pages) {
		return pages
	}

	newCap := cap(pages)
	if newCap == 0 {
		newCap = 16
	}
	for newCap <= pageIdx {
		newCap *= 2
	}

	grown := make([]*page[T], pageIdx+1, newCap)
	copy(grown, pages)
	for i := len(pages); i <= pageIdx; i++ {
		grown[i] = &page[T]{}
	}
	a.pages.Store(&grown)
	return grown
}

// Get returns the object stored under h, or nil if h is not allocated.
func (a *Arena[T]) Get(h Handle) *T {
	pages := *a.pages.Load()
	idx := int(h >> pageBits)
	if h == Nil || idx >= len(pages) {
		return nil
	}
	return pages[idx].slots[h&pageMask].Load()
}

// Free releases h and returns the object it referred to so the caller can
// recycle it. Freeing an unallocated handle returns nil.
func (a *Arena[T]) Free(h Handle) *T {
	if h == Nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pages := *a.pages.Load()
	idx := int(h >> pageBits)
	if idx >= len(pages) {
		return nil
	}
	v := pages[idx].slots[h&pageMask].Swap(nil)
	if v == nil {
		return nil
	}
	a.free.Add(uint32(h))
	a.live.Add(-1)
	return v
}

// Live returns the number of allocated handles.
func (a *Arena[T]) Live() int {
	return int(a.live.Load())
}

// Stats describes handle usage.
type Stats struct {
	Live     int // Allocated handles
	Free     int // Released handles waiting for reuse
	HighMark int // Largest handle ever issued
	Pages    int // Allocated slot pages
}

// Stats returns a snapshot of handle usage.
func (a *Arena[T]) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		Live:     int(a.live.Load()),
		Free:     int(a.free.GetCardinality()),
		HighMark: int(a.next - 1),
		Pages:    len(*a.pages.Load()),
	}
}
