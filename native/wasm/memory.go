package wasm

import (
	"context"
	"math"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/drawbridge/errors"
)

// Memory adapts a guest's linear memory and its exported allocator to
// drawbridge.Space.
type Memory struct {
	ctx    context.Context
	mem    api.Memory
	malloc api.Function
	free   api.Function
	// realloc is cabi_realloc when the guest exports it instead of malloc
	realloc api.Function
}

func newMemory(ctx context.Context, mod api.Module) (*Memory, error) {
	m := &Memory{
		ctx:     context.WithoutCancel(ctx),
		mem:     mod.Memory(),
		malloc:  mod.ExportedFunction("malloc"),
		free:    mod.ExportedFunction("free"),
		realloc: mod.ExportedFunction("cabi_realloc"),
	}
	if m.mem == nil {
		return nil, errors.Unsupported(errors.PhaseLoad, "module exports no memory")
	}
	return m, nil
}

func offset(addr uint64, length uint32) (uint32, error) {
	if addr > math.MaxUint32 || addr+uint64(length) > math.MaxUint32+1 {
		return 0, errors.OutOfBounds(errors.PhaseMemory, addr, length)
	}
	return uint32(addr), nil
}

// Size returns the current memory size in bytes
func (m *Memory) Size() uint32 {
	return m.mem.Size()
}

func (m *Memory) Read(addr uint64, length uint32) ([]byte, error) {
	off, err := offset(addr, length)
	if err != nil {
		return nil, err
	}
	data, ok := m.mem.Read(off, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseMemory, addr, length)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

func (m *Memory) Write(addr uint64, data []byte) error {
	off, err := offset(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	if !m.mem.Write(off, data) {
		return errors.OutOfBounds(errors.PhaseMemory, addr, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU8(addr uint64) (uint8, error) {
	off, err := offset(addr, 1)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadByte(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseMemory, addr, 1)
	}
	return v, nil
}

func (m *Memory) ReadU16(addr uint64) (uint16, error) {
	off, err := offset(addr, 2)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint16Le(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseMemory, addr, 2)
	}
	return v, nil
}

func (m *Memory) ReadU32(addr uint64) (uint32, error) {
	off, err := offset(addr, 4)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint32Le(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseMemory, addr, 4)
	}
	return v, nil
}

func (m *Memory) ReadU64(addr uint64) (uint64, error) {
	off, err := offset(addr, 8)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint64Le(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseMemory, addr, 8)
	}
	return v, nil
}

func (m *Memory) WriteU8(addr uint64, value uint8) error {
	off, err := offset(addr, 1)
	if err != nil {
		return err
	}
	if !m.mem.WriteByte(off, value) {
		return errors.OutOfBounds(errors.PhaseMemory, addr, 1)
	}
	return nil
}

func (m *Memory) WriteU16(addr uint64, value uint16) error {
	off, err := offset(addr, 2)
	if err != nil {
		return err
	}
	if !m.mem.WriteUint16Le(off, value) {
		return errors.OutOfBounds(errors.PhaseMemory, addr, 2)
	}
	return nil
}

func (m *Memory) WriteU32(addr uint64, value uint32) error {
	off, err := offset(addr, 4)
	if err != nil {
		return err
	}
	if !m.mem.WriteUint32Le(off, value) {
		return errors.OutOfBounds(errors.PhaseMemory, addr, 4)
	}
	return nil
}

func (m *Memory) WriteU64(addr uint64, value uint64) error {
	off, err := offset(addr, 8)
	if err != nil {
		return err
	}
	if !m.mem.WriteUint64Le(off, value) {
		return errors.OutOfBounds(errors.PhaseMemory, addr, 8)
	}
	return nil
}

// Alloc allocates guest memory through the module's malloc, or cabi_realloc
// when malloc is not exported.
func (m *Memory) Alloc(size, align uint32) (uint64, error) {
	var results []uint64
	var err error
	switch {
	case m.malloc != nil:
		results, err = m.malloc.Call(m.ctx, uint64(size))
	case m.realloc != nil:
		results, err = m.realloc.Call(m.ctx, 0, 0, uint64(align), uint64(size))
	default:
		return 0, errors.Unsupported(errors.PhaseMemory, "module exports no allocator")
	}
	if err != nil {
		return 0, errors.New(errors.PhaseMemory, errors.KindAllocation).
			Cause(err).
			Detail("guest allocator trapped").
			Build()
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, align)
	}
	return uint64(uint32(results[0])), nil
}

// Free returns guest memory to the module's allocator
func (m *Memory) Free(addr uint64, size, align uint32) {
	switch {
	case m.free != nil:
		_, _ = m.free.Call(m.ctx, addr)
	case m.realloc != nil:
		_, _ = m.realloc.Call(m.ctx, addr, uint64(size), uint64(align), 0)
	}
}
