package native

import (
	"fmt"
	"math"
	"strconv"

	"github.com/wippyai/drawbridge"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/layout"
)

// New allocates a block for t in space and stores v into it
func New(space drawbridge.Space, calc *layout.Calculator, t ctype.Type, v any, allocs *Allocations) (Address, error) {
	info := calc.Calculate(t)
	addr, err := allocs.alloc(space, info.Size, info.Align)
	if err != nil {
		return 0, err
	}
	if err := Store(space, calc, addr, t, v, allocs); err != nil {
		return 0, err
	}
	return Address(addr), nil
}

// Store writes v as a value of type t at addr. Memory reachable through
// pointers in v is allocated in space and recorded in allocs.
func Store(space drawbridge.Space, calc *layout.Calculator, addr uint64, t ctype.Type, v any, allocs *Allocations) error {
	return store(space, calc, addr, t, v, allocs, nil)
}

func store(space drawbridge.Space, calc *layout.Calculator, addr uint64, t ctype.Type, v any, allocs *Allocations, path []string) error {
	switch typ := t.(type) {
	case *ctype.Scalar:
		return storeScalar(space, calc.ABI(), addr, typ, Deref(v), allocs, path)

	case *ctype.Pointer:
		target, err := pointee(space, calc, typ.Elem, v, allocs, path)
		if err != nil {
			return err
		}
		return writeUint(space, addr, calc.ABI().PointerSize, uint64(target))

	case *ctype.Array:
		items, ok := Deref(v).([]any)
		if !ok {
			if v == nil {
				return nil
			}
			return errors.TypeMismatch(errors.PhaseMemory, path, fmt.Sprintf("%T", v), typ.String())
		}
		if len(items) > typ.Len {
			return errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
				Path(path...).
				Detail("%d elements do not fit in %s", len(items), typ).
				Build()
		}
		size := calc.SizeOf(typ.Elem)
		for i, item := range items {
			if err := store(space, calc, addr+uint64(i)*uint64(size), typ.Elem, item, allocs, append(path, strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil

	case *ctype.Struct:
		s, ok := Deref(v).(*Struct)
		if !ok {
			if v == nil {
				return nil
			}
			return errors.TypeMismatch(errors.PhaseMemory, path, fmt.Sprintf("%T", v), typ.String())
		}
		info := calc.Calculate(typ)
		for i, f := range typ.Fields {
			fv, ok := s.Get(f.Name)
			if !ok {
				continue
			}
			if err := store(space, calc, addr+uint64(info.FieldOffs[i]), f.Type, fv, allocs, append(path, f.Name)); err != nil {
				return err
			}
		}
		return nil

	case *ctype.Custom:
		if typ.Adapter != nil {
			conv, err := typ.Adapter.FromParam(v)
			if err != nil {
				return errors.Wrap(errors.PhaseMemory, errors.KindTypeMismatch, err, typ.Name)
			}
			v = conv
		}
		return storeAddress(space, calc.ABI(), addr, typ, v, path)

	case *ctype.Func:
		return storeAddress(space, calc.ABI(), addr, typ, v, path)
	}
	return errors.Unsupported(errors.PhaseMemory, fmt.Sprintf("store of %v", t))
}

// pointee materializes the target of a pointer value and returns its address
func pointee(space drawbridge.Space, calc *layout.Calculator, elem ctype.Type, v any, allocs *Allocations, path []string) (Address, error) {
	switch p := v.(type) {
	case nil:
		return 0, nil
	case Address:
		return p, nil
	case *Cell:
		if p == nil {
			return 0, nil
		}
		return New(space, calc, elem, p.Value, allocs)
	case string:
		if s, ok := elem.(*ctype.Scalar); ok && s.Class() == ctype.ClassChar {
			return WriteCString(space, p, allocs)
		}
	}
	return New(space, calc, elem, v, allocs)
}

func storeAddress(mem drawbridge.Memory, abi ctype.ABI, addr uint64, t ctype.Type, v any, path []string) error {
	a, ok := AddressOf(v)
	if !ok {
		return errors.TypeMismatch(errors.PhaseMemory, path, fmt.Sprintf("%T", v), t.String())
	}
	return writeUint(mem, addr, abi.PointerSize, uint64(a))
}

func storeScalar(space drawbridge.Space, abi ctype.ABI, addr uint64, s *ctype.Scalar, v any, allocs *Allocations, path []string) error {
	size := abi.SizeOf(s)
	mismatch := func() error {
		return errors.TypeMismatch(errors.PhaseMemory, path, fmt.Sprintf("%T", v), s.Name())
	}

	switch s.Class() {
	case ctype.ClassBool:
		var b uint64
		switch x := v.(type) {
		case bool:
			if x {
				b = 1
			}
		default:
			n, ok := Int64(v)
			if !ok {
				return mismatch()
			}
			if n != 0 {
				b = 1
			}
		}
		return writeUint(space, addr, size, b)

	case ctype.ClassSigned, ctype.ClassUnsigned, ctype.ClassChar, ctype.ClassWChar:
		if str, ok := v.(string); ok {
			r := []rune(str)
			if len(r) != 1 {
				return mismatch()
			}
			v = r[0]
		}
		n, ok := Uint64(v)
		if !ok {
			return mismatch()
		}
		return writeUint(space, addr, size, n)

	case ctype.ClassFloat:
		f, ok := Float64(v)
		if !ok {
			return mismatch()
		}
		if size == 4 {
			return writeUint(space, addr, 4, uint64(math.Float32bits(float32(f))))
		}
		return writeUint(space, addr, 8, math.Float64bits(f))

	case ctype.ClassString, ctype.ClassWString:
		var target Address
		var err error
		switch x := v.(type) {
		case string:
			if s.Class() == ctype.ClassString {
				target, err = WriteCString(space, x, allocs)
			} else {
				target, err = WriteWString(space, x, abi.WCharSize, allocs)
			}
		case []byte:
			target, err = writeTerminated(space, x, 1, allocs)
		default:
			a, ok := AddressOf(v)
			if !ok {
				return mismatch()
			}
			target = a
		}
		if err != nil {
			return err
		}
		return writeUint(space, addr, size, uint64(target))

	case ctype.ClassAddress:
		if c, ok := v.(*Cell); ok {
			target, err := New(space, layout.NewCalculator(abi), ctype.VoidP, c.Value, allocs)
			if err != nil {
				return err
			}
			return writeUint(space, addr, size, uint64(target))
		}
		return storeAddress(space, abi, addr, s, v, path)
	}
	return mismatch()
}

// Load reads a value of type t at addr. Pointers load as Address or nil.
func Load(mem drawbridge.Memory, calc *layout.Calculator, addr uint64, t ctype.Type) (any, error) {
	switch typ := t.(type) {
	case *ctype.Scalar:
		return loadScalar(mem, calc.ABI(), addr, typ)

	case *ctype.Pointer, *ctype.Func, *ctype.Custom:
		p, err := readUint(mem, addr, calc.ABI().PointerSize)
		if err != nil || p == 0 {
			return nil, err
		}
		return Address(p), nil

	case *ctype.Array:
		size := calc.SizeOf(typ.Elem)
		items := make([]any, typ.Len)
		for i := range items {
			v, err := Load(mem, calc, addr+uint64(i)*uint64(size), typ.Elem)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	case *ctype.Struct:
		info := calc.Calculate(typ)
		s := &Struct{Fields: make([]Field, len(typ.Fields))}
		for i, f := range typ.Fields {
			v, err := Load(mem, calc, addr+uint64(info.FieldOffs[i]), f.Type)
			if err != nil {
				return nil, err
			}
			s.Fields[i] = Field{Name: f.Name, Value: v}
		}
		return s, nil
	}
	return nil, errors.Unsupported(errors.PhaseMemory, fmt.Sprintf("load of %v", t))
}

func loadScalar(mem drawbridge.Memory, abi ctype.ABI, addr uint64, s *ctype.Scalar) (any, error) {
	size := abi.SizeOf(s)
	u, err := readUint(mem, addr, size)
	if err != nil {
		return nil, err
	}

	switch s.Class() {
	case ctype.ClassBool:
		return u != 0, nil
	case ctype.ClassSigned:
		return signExtend(u, size), nil
	case ctype.ClassUnsigned:
		return u, nil
	case ctype.ClassChar:
		return byte(u), nil
	case ctype.ClassWChar:
		return rune(u), nil
	case ctype.ClassFloat:
		if size == 4 {
			return float64(math.Float32frombits(uint32(u))), nil
		}
		return math.Float64frombits(u), nil
	case ctype.ClassString:
		if u == 0 {
			return nil, nil
		}
		return ReadCString(mem, u)
	case ctype.ClassWString:
		if u == 0 {
			return nil, nil
		}
		return ReadWString(mem, u, abi.WCharSize)
	case ctype.ClassAddress:
		if u == 0 {
			return nil, nil
		}
		return Address(u), nil
	}
	return nil, errors.Unsupported(errors.PhaseMemory, "load of "+s.Name())
}

func signExtend(u uint64, size uint32) int64 {
	switch size {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	}
	return int64(u)
}

func writeUint(mem drawbridge.Memory, addr uint64, size uint32, v uint64) error {
	switch size {
	case 1:
		return mem.WriteU8(addr, uint8(v))
	case 2:
		return mem.WriteU16(addr, uint16(v))
	case 4:
		return mem.WriteU32(addr, uint32(v))
	case 8:
		return mem.WriteU64(addr, v)
	}
	return errors.Unsupported(errors.PhaseMemory, fmt.Sprintf("%d byte scalar", size))
}

func readUint(mem drawbridge.Memory, addr uint64, size uint32) (uint64, error) {
	switch size {
	case 1:
		v, err := mem.ReadU8(addr)
		return uint64(v), err
	case 2:
		v, err := mem.ReadU16(addr)
		return uint64(v), err
	case 4:
		v, err := mem.ReadU32(addr)
		return uint64(v), err
	case 8:
		return mem.ReadU64(addr)
	}
	return 0, errors.Unsupported(errors.PhaseMemory, fmt.Sprintf("%d byte scalar", size))
}

// ReadPointer reads a pointer-sized value at addr
func ReadPointer(mem drawbridge.Memory, abi ctype.ABI, addr uint64) (Address, error) {
	v, err := readUint(mem, addr, abi.PointerSize)
	return Address(v), err
}

// WritePointer writes a pointer-sized value at addr
func WritePointer(mem drawbridge.Memory, abi ctype.ABI, addr uint64, p Address) error {
	return writeUint(mem, addr, abi.PointerSize, uint64(p))
}

// Assign copies src into the mutable value dst in place. Cells receive src
// directly; structs copy fields by name; arrays copy elements. It reports
// whether dst could be updated.
func Assign(dst, src any) bool {
	switch d := dst.(type) {
	case *Cell:
		if d == nil {
			return false
		}
		if inner, ok := d.Value.(*Struct); ok && Assign(inner, src) {
			return true
		}
		if inner, ok := d.Value.([]any); ok && Assign(inner, src) {
			return true
		}
		d.Value = src
		return true
	case *Struct:
		s, ok := Deref(src).(*Struct)
		if !ok || d == nil {
			return false
		}
		for _, f := range s.Fields {
			cur, exists := d.Get(f.Name)
			if exists && Assign(cur, f.Value) {
				continue
			}
			d.Set(f.Name, f.Value)
		}
		return true
	case []any:
		s, ok := Deref(src).([]any)
		if !ok {
			return false
		}
		for i := 0; i < len(d) && i < len(s); i++ {
			if Assign(d[i], s[i]) {
				continue
			}
			d[i] = s[i]
		}
		return true
	}
	return false
}
