package registry

import (
	"container/heap"
	"sync"
)

// Allocator hands out descriptors, reusing the lowest released value first.
//
// A descriptor must only be released once nothing refers to its old entry
// anymore; the allocator cannot check that.
type Allocator struct {
	mu    sync.Mutex
	next  int
	free  fdHeap
	inUse map[int]struct{}
}

// NewAllocator returns an allocator whose first descriptor is base.
func NewAllocator(base int) *Allocator {
	return &Allocator{
		next:  base,
		inUse: make(map[int]struct{}),
	}
}

// Allocate returns an unused descriptor.
func (a *Allocator) Allocate() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var fd int
	if a.free.Len() > 0 {
		fd = heap.Pop(&a.free).(int)
	} else {
		fd = a.next
		a.next++
	}

	a.inUse[fd] = struct{}{}
	return fd
}

// Release returns fd to the pool. Releasing an unknown descriptor is a no-op
// and reports false.
func (a *Allocator) Release(fd int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.inUse[fd]; !ok {
		return false
	}
	delete(a.inUse, fd)
	heap.Push(&a.free, fd)
	return true
}

// InUse returns the number of allocated descriptors.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.inUse)
}

type fdHeap []int

func (h fdHeap) Len() int           { return len(h) }
func (h fdHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h fdHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *fdHeap) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *fdHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
