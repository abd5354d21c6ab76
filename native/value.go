package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
)

// Address is a raw pointer into a process address space. Zero is null.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Cell is a mutable slot standing for a pointer to a single value.
// Arguments passed by reference are Cells; the callee's writes are
// synchronized back into the caller's Cell after the call.
type Cell struct {
	Value any
}

// Ref returns a Cell holding v
func Ref(v any) *Cell {
	return &Cell{Value: v}
}

// Field is one named struct member value
type Field struct {
	Name  string
	Value any
}

// Struct is a struct value with ordered, mutable fields
type Struct struct {
	Fields []Field
}

// StructOf builds a struct value from alternating names and values
func StructOf(kv ...any) *Struct {
	s := &Struct{Fields: make([]Field, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		s.Fields = append(s.Fields, Field{Name: kv[i].(string), Value: kv[i+1]})
	}
	return s
}

// Get returns the value of the named field
func (s *Struct) Get(name string) (any, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set assigns the named field, appending it when absent
func (s *Struct) Set(name string, v any) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			s.Fields[i].Value = v
			return
		}
	}
	s.Fields = append(s.Fields, Field{Name: name, Value: v})
}

// Func is the Go signature of a function pointer target
type Func func(ctx context.Context, args []any) (any, error)

// callbackIDs starts at a random base so names generated in different
// processes do not collide
var callbackIDs = func() *atomic.Uint64 {
	id := uuid.New()
	var n atomic.Uint64
	n.Store(binary.BigEndian.Uint64(id[:8]) &^ (1<<16 - 1))
	return &n
}()

// Callback is a function pointer value with a stable identity.
// Passing the same Callback on every call registers it with the peer once.
type Callback struct {
	fn   Func
	name string
}

// NewCallback wraps fn with a freshly generated name
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn, name: fmt.Sprintf("func_%x", callbackIDs.Add(1))}
}

// NamedCallback wraps fn under a given name
func NamedCallback(name string, fn Func) *Callback {
	return &Callback{fn: fn, name: name}
}

// Name returns the identifier the callback travels under
func (c *Callback) Name() string {
	return c.name
}

// Call invokes the callback
func (c *Callback) Call(ctx context.Context, args ...any) (any, error) {
	return c.fn(ctx, args)
}

// Deref strips one level of Cell
func Deref(v any) any {
	if c, ok := v.(*Cell); ok {
		return c.Value
	}
	return v
}

// IsNull reports whether v is a null pointer value
func IsNull(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case Address:
		return p == 0
	case *Cell:
		return p == nil
	case *Struct:
		return p == nil
	case *Callback:
		return p == nil
	}
	return false
}

// AddressOf extracts a raw address from v
func AddressOf(v any) (Address, bool) {
	switch p := v.(type) {
	case nil:
		return 0, true
	case Address:
		return p, true
	case uint64:
		return Address(p), true
	case uintptr:
		return Address(p), true
	case uint32:
		return Address(p), true
	case int64:
		return Address(uint64(p)), true
	case int:
		return Address(uint64(p)), true
	}
	return 0, false
}

// Int64 converts any Go numeric value to int64
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uintptr:
		return int64(n), true
	case Address:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Uint64 converts any Go numeric value to uint64
func Uint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case Address:
		return uint64(n), true
	case float32, float64:
		f, _ := Float64(n)
		if f < 0 {
			return uint64(int64(f)), true
		}
		return uint64(f), true
	}
	i, ok := Int64(v)
	return uint64(i), ok
}

// Float64 converts any Go numeric value to float64
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	i, ok := Int64(v)
	return float64(i), ok
}

// Float32 converts any Go numeric value to float32
func Float32(v any) (float32, bool) {
	f, ok := Float64(v)
	if !ok || (f != 0 && math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0)) {
		return 0, false
	}
	return float32(f), true
}
