package arena

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/wippyai/drawbridge/errors"
)

// DefaultBase is the first address handed out by New(0)
const DefaultBase = 0x10000

// gap separates consecutive blocks so overruns fault instead of
// silently landing in a neighbour.
const gap = 16

type block struct {
	data []byte
	addr uint64
}

func (b *block) end() uint64 { return b.addr + uint64(len(b.data)) }

// Arena is a simulated address space. Every allocation is a separate block;
// accesses must fall entirely inside one live block. Safe for concurrent use.
type Arena struct {
	blocks []*block
	next   uint64
	mu     sync.RWMutex
}

// New creates an arena whose first block starts at base
func New(base uint64) *Arena {
	if base == 0 {
		base = DefaultBase
	}
	return &Arena{next: base}
}

func (a *Arena) Alloc(size, align uint32) (uint64, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, align)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	addr := (a.next + uint64(align) - 1) &^ (uint64(align) - 1)
	b := &block{addr: addr, data: make([]byte, size)}
	a.blocks = append(a.blocks, b)
	a.next = b.end() + gap
	return addr, nil
}

func (a *Arena) Free(addr uint64, size, align uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := a.search(addr)
	if i < len(a.blocks) && a.blocks[i].addr == addr {
		a.blocks = append(a.blocks[:i], a.blocks[i+1:]...)
	}
}

// Live returns the number of allocated blocks
func (a *Arena) Live() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.blocks)
}

// search returns the index of the block containing addr, or len(blocks)
func (a *Arena) search(addr uint64) int {
	i := sort.Search(len(a.blocks), func(i int) bool {
		return a.blocks[i].end() > addr
	})
	if i < len(a.blocks) && a.blocks[i].addr <= addr {
		return i
	}
	return len(a.blocks)
}

// slice returns the bytes backing [addr, addr+n)
func (a *Arena) slice(addr uint64, n uint32) ([]byte, error) {
	i := a.search(addr)
	if i == len(a.blocks) {
		return nil, errors.OutOfBounds(errors.PhaseMemory, addr, n)
	}
	b := a.blocks[i]
	off := addr - b.addr
	if off+uint64(n) > uint64(len(b.data)) {
		return nil, errors.OutOfBounds(errors.PhaseMemory, addr, n)
	}
	return b.data[off : off+uint64(n)], nil
}

func (a *Arena) Read(addr uint64, length uint32) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	src, err := a.slice(addr, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, src)
	return out, nil
}

func (a *Arena) Write(addr uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	dst, err := a.slice(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (a *Arena) ReadU8(addr uint64) (uint8, error) {
	b, err := a.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (a *Arena) ReadU16(addr uint64) (uint16, error) {
	b, err := a.Read(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (a *Arena) ReadU32(addr uint64) (uint32, error) {
	b, err := a.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (a *Arena) ReadU64(addr uint64) (uint64, error) {
	b, err := a.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (a *Arena) WriteU8(addr uint64, value uint8) error {
	return a.Write(addr, []byte{value})
}

func (a *Arena) WriteU16(addr uint64, value uint16) error {
	return a.Write(addr, binary.LittleEndian.AppendUint16(nil, value))
}

func (a *Arena) WriteU32(addr uint64, value uint32) error {
	return a.Write(addr, binary.LittleEndian.AppendUint32(nil, value))
}

func (a *Arena) WriteU64(addr uint64, value uint64) error {
	return a.Write(addr, binary.LittleEndian.AppendUint64(nil, value))
}
