package drawbridge

// Memory represents one process address space.
// Addresses are absolute and pointer sized on the owning side.
type Memory interface {
	Read(addr uint64, length uint32) ([]byte, error)
	Write(addr uint64, data []byte) error
	ReadU8(addr uint64) (uint8, error)
	ReadU16(addr uint64) (uint16, error)
	ReadU32(addr uint64) (uint32, error)
	ReadU64(addr uint64) (uint64, error)
	WriteU8(addr uint64, value uint8) error
	WriteU16(addr uint64, value uint16) error
	WriteU32(addr uint64, value uint32) error
	WriteU64(addr uint64, value uint64) error
}

// Allocator allocates memory in an address space
type Allocator interface {
	Alloc(size, align uint32) (uint64, error)
	Free(addr uint64, size, align uint32)
}

// Space is an address space that can be both accessed and allocated from.
// Memsync materializes peer buffers into a Space and splices the resulting
// addresses into call arguments.
type Space interface {
	Memory
	Allocator
}
