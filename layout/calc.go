package layout

import (
	"sync"

	"github.com/wippyai/drawbridge/ctype"
)

// Info is the memory layout of a native type
type Info struct {
	// FieldOffs holds struct field offsets in field order
	FieldOffs []uint32
	Size      uint32
	Align     uint32
}

// Calculator computes layouts under one ABI. Safe for concurrent use.
type Calculator struct {
	cache map[*ctype.Struct]Info
	abi   ctype.ABI
	mu    sync.Mutex
}

func NewCalculator(abi ctype.ABI) *Calculator {
	return &Calculator{
		abi:   abi,
		cache: make(map[*ctype.Struct]Info),
	}
}

// ABI returns the calculator's ABI
func (c *Calculator) ABI() ctype.ABI {
	return c.abi
}

func (c *Calculator) Calculate(t ctype.Type) Info {
	switch typ := t.(type) {
	case *ctype.Scalar:
		return Info{Size: c.abi.SizeOf(typ), Align: c.abi.AlignOf(typ)}
	case *ctype.Pointer, *ctype.Func, *ctype.Custom:
		return c.pointer()
	case *ctype.Array:
		elem := c.Calculate(typ.Elem)
		return Info{Size: elem.Size * uint32(typ.Len), Align: elem.Align}
	case *ctype.Struct:
		return c.calculateStruct(typ)
	default:
		return Info{Size: 0, Align: 1}
	}
}

// SizeOf is shorthand for Calculate(t).Size
func (c *Calculator) SizeOf(t ctype.Type) uint32 {
	return c.Calculate(t).Size
}

func (c *Calculator) pointer() Info {
	p := c.abi.PointerSize
	return Info{Size: p, Align: p}
}

func (c *Calculator) calculateStruct(s *ctype.Struct) Info {
	c.mu.Lock()
	cached, ok := c.cache[s]
	c.mu.Unlock()
	if ok {
		return cached
	}

	info := c.calculateRecord(s)

	c.mu.Lock()
	c.cache[s] = info
	c.mu.Unlock()
	return info
}

func (c *Calculator) calculateRecord(s *ctype.Struct) Info {
	if len(s.Fields) == 0 {
		return Info{Size: 0, Align: 1}
	}

	fieldOffs := make([]uint32, len(s.Fields))
	maxAlign := uint32(1)
	offset := uint32(0)

	for i, field := range s.Fields {
		fieldLayout := c.Calculate(field.Type)

		offset = AlignTo(offset, fieldLayout.Align)
		fieldOffs[i] = offset

		if fieldLayout.Align > maxAlign {
			maxAlign = fieldLayout.Align
		}

		offset += fieldLayout.Size
	}

	return Info{
		Size:      AlignTo(offset, maxAlign),
		Align:     maxAlign,
		FieldOffs: fieldOffs,
	}
}

// AlignTo rounds offset up to a multiple of align
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}
