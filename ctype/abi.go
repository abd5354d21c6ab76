package ctype

import (
	"fmt"
	goruntime "runtime"
)

// ABI describes the data model of one side of the bridge
type ABI struct {
	Name         string
	PointerSize  uint32
	ShortSize    uint32
	IntSize      uint32
	LongSize     uint32
	LongLongSize uint32
	WCharSize    uint32
	// MaxAlign caps scalar alignment (i386 System V aligns 8-byte scalars to 4)
	MaxAlign uint32
}

var (
	LP64   = ABI{Name: "lp64", PointerSize: 8, ShortSize: 2, IntSize: 4, LongSize: 8, LongLongSize: 8, WCharSize: 4, MaxAlign: 8}
	LLP64  = ABI{Name: "llp64", PointerSize: 8, ShortSize: 2, IntSize: 4, LongSize: 4, LongLongSize: 8, WCharSize: 2, MaxAlign: 8}
	ILP32  = ABI{Name: "ilp32", PointerSize: 4, ShortSize: 2, IntSize: 4, LongSize: 4, LongLongSize: 8, WCharSize: 4, MaxAlign: 4}
	Win32  = ABI{Name: "win32", PointerSize: 4, ShortSize: 2, IntSize: 4, LongSize: 4, LongLongSize: 8, WCharSize: 2, MaxAlign: 8}
	Wasm32 = ABI{Name: "wasm32", PointerSize: 4, ShortSize: 2, IntSize: 4, LongSize: 4, LongLongSize: 8, WCharSize: 4, MaxAlign: 8}
)

var abis = map[string]ABI{
	LP64.Name:   LP64,
	LLP64.Name:  LLP64,
	ILP32.Name:  ILP32,
	Win32.Name:  Win32,
	Wasm32.Name: Wasm32,
}

// ABIByName looks up a predefined ABI
func ABIByName(name string) (ABI, error) {
	if a, ok := abis[name]; ok {
		return a, nil
	}
	return ABI{}, fmt.Errorf("unknown ABI %q", name)
}

// HostABI returns the ABI of the running process
func HostABI() ABI {
	switch {
	case goruntime.GOOS == "windows" && goruntime.GOARCH == "386":
		return Win32
	case goruntime.GOOS == "windows":
		return LLP64
	case goruntime.GOARCH == "wasm":
		return Wasm32
	case goruntime.GOARCH == "386" || goruntime.GOARCH == "arm" || goruntime.GOARCH == "mipsle":
		return ILP32
	default:
		return LP64
	}
}

// SizeOf returns the size in bytes of s under the ABI
func (a ABI) SizeOf(s *Scalar) uint32 {
	switch s.width {
	case widthShort:
		return a.ShortSize
	case widthInt:
		return a.IntSize
	case widthLong:
		return a.LongSize
	case widthLongLong:
		return a.LongLongSize
	case widthPointer:
		return a.PointerSize
	case widthWChar:
		return a.WCharSize
	default:
		return s.size
	}
}

// AlignOf returns the alignment of s under the ABI
func (a ABI) AlignOf(s *Scalar) uint32 {
	size := a.SizeOf(s)
	if a.MaxAlign != 0 && size > a.MaxAlign {
		return a.MaxAlign
	}
	return size
}

// Canonical maps platform-variable integer types to their fixed-width
// equivalent under the ABI. Other scalars are returned unchanged.
func (a ABI) Canonical(s *Scalar) *Scalar {
	if !s.PlatformVariable() {
		return s
	}
	prefix := "int"
	if s.class == ClassUnsigned {
		prefix = "uint"
	}
	name := fmt.Sprintf("%s%d", prefix, a.SizeOf(s)*8)
	if c, ok := scalars[name]; ok {
		return c
	}
	return s
}
