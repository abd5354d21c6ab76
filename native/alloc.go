package native

import (
	"sync"

	"github.com/wippyai/drawbridge"
)

// Allocation is one block handed out by an Allocator
type Allocation struct {
	Addr  uint64
	Size  uint32
	Align uint32
}

// Allocations records blocks allocated while lowering a value so they can
// be released once the call returns.
type Allocations struct {
	list []Allocation
}

var allocationsPool = sync.Pool{
	New: func() any {
		return &Allocations{list: make([]Allocation, 0, 8)}
	},
}

const maxPooledAllocations = 128

// NewAllocations returns an empty list from the pool
func NewAllocations() *Allocations {
	return allocationsPool.Get().(*Allocations)
}

// Add records a block. A nil list records nothing and the caller keeps
// ownership of the block.
func (a *Allocations) Add(addr uint64, size, align uint32) {
	if a == nil {
		return
	}
	a.list = append(a.list, Allocation{Addr: addr, Size: size, Align: align})
}

// Free releases every recorded block and empties the list
func (a *Allocations) Free(alloc drawbridge.Allocator) {
	if a == nil {
		return
	}
	if alloc != nil {
		for i := len(a.list) - 1; i >= 0; i-- {
			if b := a.list[i]; b.Addr != 0 {
				alloc.Free(b.Addr, b.Size, b.Align)
			}
		}
	}
	a.list = a.list[:0]
}

// Release frees the blocks and returns the list to the pool.
// The list must not be used afterwards.
func (a *Allocations) Release(alloc drawbridge.Allocator) {
	if a == nil {
		return
	}
	a.Free(alloc)
	if cap(a.list) > maxPooledAllocations {
		return
	}
	allocationsPool.Put(a)
}

// Count returns the number of recorded blocks
func (a *Allocations) Count() int {
	if a == nil {
		return 0
	}
	return len(a.list)
}

func (a *Allocations) alloc(space drawbridge.Space, size, align uint32) (uint64, error) {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}
	addr, err := space.Alloc(size, align)
	if err != nil {
		return 0, err
	}
	a.Add(addr, size, align)
	return addr, nil
}
