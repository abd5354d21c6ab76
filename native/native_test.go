package native_test

import (
	"context"
	"strings"
	"testing"

	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/layout"
	"github.com/wippyai/drawbridge/native"
	"github.com/wippyai/drawbridge/native/arena"
)

func TestStoreLoad_Scalars(t *testing.T) {
	space := arena.New(0)
	calc := layout.NewCalculator(ctype.LP64)

	tests := []struct {
		typ  *ctype.Scalar
		in   any
		want any
	}{
		{ctype.Int, int64(-7), int64(-7)},
		{ctype.Short, 70000, int64(4464)},
		{ctype.UInt, int64(-1), uint64(0xffffffff)},
		{ctype.Long, int64(-1 << 40), int64(-1 << 40)},
		{ctype.Double, 3.25, 3.25},
		{ctype.Float, 1.5, 1.5},
		{ctype.Bool, true, true},
		{ctype.Bool, int64(0), false},
		{ctype.Char, "a", byte('a')},
		{ctype.WChar, "ß", 'ß'},
		{ctype.CharP, "hello", "hello"},
		{ctype.WCharP, "grüße", "grüße"},
		{ctype.VoidP, native.Address(0x1234), native.Address(0x1234)},
		{ctype.VoidP, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.typ.Name(), func(t *testing.T) {
			addr, err := native.New(space, calc, tt.typ, tt.in, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got, err := native.Load(space, calc, uint64(addr), tt.typ)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestStore_TypeMismatch(t *testing.T) {
	space := arena.New(0)
	calc := layout.NewCalculator(ctype.LP64)
	if _, err := native.New(space, calc, ctype.Int, "twelve", nil); err == nil {
		t.Error("expected mismatch storing string as int")
	}
	arr := ctype.ArrayOf(ctype.Int, 2)
	if _, err := native.New(space, calc, arr, []any{int64(1), int64(2), int64(3)}, nil); err == nil {
		t.Error("expected error storing 3 elements into [2]int")
	}
}

func TestStoreLoad_Struct(t *testing.T) {
	space := arena.New(0)
	point := ctype.NewStruct("point", ctype.Field{Name: "x", Type: ctype.Double}, ctype.Field{Name: "y", Type: ctype.Double})
	shape := ctype.NewStruct("shape",
		ctype.Field{Name: "tag", Type: ctype.Char},
		ctype.Field{Name: "corners", Type: ctype.ArrayOf(point, 2)},
		ctype.Field{Name: "name", Type: ctype.CharP},
		ctype.Field{Name: "next", Type: ctype.PointerTo(ctype.Int)},
	)

	for _, abi := range []ctype.ABI{ctype.LP64, ctype.Win32} {
		t.Run(abi.Name, func(t *testing.T) {
			calc := layout.NewCalculator(abi)
			in := native.StructOf(
				"tag", byte('s'),
				"corners", []any{
					native.StructOf("x", 1.0, "y", 2.0),
					native.StructOf("x", 3.0, "y", 4.0),
				},
				"name", "square",
				"next", native.Ref(int64(99)),
			)
			allocs := native.NewAllocations()
			addr, err := native.New(space, calc, shape, in, allocs)
			if err != nil {
				t.Fatal(err)
			}
			// shape, name string and the int behind next
			if allocs.Count() != 3 {
				t.Errorf("allocations = %d, want 3", allocs.Count())
			}

			got, err := native.Load(space, calc, uint64(addr), shape)
			if err != nil {
				t.Fatal(err)
			}
			s := got.(*native.Struct)
			if v, _ := s.Get("tag"); v != byte('s') {
				t.Errorf("tag = %v", v)
			}
			if v, _ := s.Get("name"); v != "square" {
				t.Errorf("name = %v", v)
			}
			corners, _ := s.Get("corners")
			second := corners.([]any)[1].(*native.Struct)
			if y, _ := second.Get("y"); y != 4.0 {
				t.Errorf("corners[1].y = %v", y)
			}
			next, _ := s.Get("next")
			p, ok := next.(native.Address)
			if !ok {
				t.Fatalf("next = %T", next)
			}
			if v, _ := native.Load(space, calc, uint64(p), ctype.Int); v != int64(99) {
				t.Errorf("*next = %v", v)
			}

			before := space.Live()
			allocs.Release(space)
			if space.Live() != before-3 {
				t.Errorf("Release freed %d blocks", before-space.Live())
			}
		})
	}
}

func TestPointers(t *testing.T) {
	space := arena.New(0)
	calc := layout.NewCalculator(ctype.Win32)
	pp := ctype.PointerTo(ctype.PointerTo(ctype.Short))

	addr, err := native.New(space, calc, pp, native.Ref(native.Ref(int64(-3))), nil)
	if err != nil {
		t.Fatal(err)
	}
	outer, _ := native.ReadPointer(space, ctype.Win32, uint64(addr))
	inner, _ := native.ReadPointer(space, ctype.Win32, uint64(outer))
	v, _ := native.Load(space, calc, uint64(inner), ctype.Short)
	if v != int64(-3) {
		t.Errorf("**pp = %v", v)
	}

	null, _ := native.New(space, calc, pp, nil, nil)
	if got, _ := native.Load(space, calc, uint64(null), pp); got != nil {
		t.Errorf("null pointer loads as %v", got)
	}
}

func TestWide(t *testing.T) {
	tests := []struct {
		width uint32
		s     string
		size  int
	}{
		{2, "abc", 6},
		{4, "abc", 12},
		{2, "😀", 4},
		{4, "😀", 4},
	}
	for _, tt := range tests {
		b, err := native.EncodeWide(tt.s, tt.width)
		if err != nil {
			t.Fatal(err)
		}
		if len(b) != tt.size {
			t.Errorf("EncodeWide(%q, %d) = %d bytes, want %d", tt.s, tt.width, len(b), tt.size)
		}
		back, err := native.DecodeWide(append(b, make([]byte, tt.width)...), tt.width)
		if err != nil {
			t.Fatal(err)
		}
		if back != tt.s {
			t.Errorf("DecodeWide = %q, want %q", back, tt.s)
		}
	}
	if _, err := native.EncodeWide("x", 3); err == nil {
		t.Error("expected error for width 3")
	}
}

func TestStrings(t *testing.T) {
	space := arena.New(0)
	addr, err := native.WriteCString(space, "zugbrücke", nil)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := native.ReadCString(space, uint64(addr)); s != "zugbrücke" {
		t.Errorf("ReadCString = %q", s)
	}
	n, _ := native.TerminatedLength(space, uint64(addr), 1)
	if n != len("zugbrücke") {
		t.Errorf("TerminatedLength = %d", n)
	}

	waddr, _ := native.WriteWString(space, "wide", 2, nil)
	if n, _ := native.TerminatedLength(space, uint64(waddr), 2); n != 4 {
		t.Errorf("wide TerminatedLength = %d", n)
	}

	bad, _ := space.Alloc(4, 1)
	_ = space.Write(bad, []byte("abcd"))
	if _, err := native.ReadCString(space, bad); err == nil {
		t.Error("expected error for unterminated string")
	}
}

func TestAssign(t *testing.T) {
	arr := []any{int64(1), native.StructOf("a", int64(1)), int64(3)}
	native.Assign(arr, []any{int64(9), native.StructOf("a", int64(8), "b", int64(7))})
	if arr[0] != int64(9) || arr[2] != int64(3) {
		t.Errorf("array = %v", arr)
	}
	if v, _ := arr[1].(*native.Struct).Get("b"); v != int64(7) {
		t.Errorf("nested struct b = %v", v)
	}

	cell := native.Ref(int64(0))
	if !native.Assign(cell, int64(4)) || cell.Value != int64(4) {
		t.Errorf("cell = %v", cell.Value)
	}
	if native.Assign(int64(1), int64(2)) {
		t.Error("scalars are not assignable")
	}
}

func TestCallback(t *testing.T) {
	cb := native.NewCallback(func(ctx context.Context, args []any) (any, error) {
		return len(args), nil
	})
	other := native.NewCallback(nil)
	if cb.Name() == other.Name() || !strings.HasPrefix(cb.Name(), "func_") {
		t.Errorf("names %q and %q", cb.Name(), other.Name())
	}
	got, err := cb.Call(context.Background(), 1, 2, 3)
	if err != nil || got != 3 {
		t.Errorf("Call = %v, %v", got, err)
	}
}

func TestCoercions(t *testing.T) {
	if n, ok := native.Int64(uint8(200)); !ok || n != 200 {
		t.Errorf("Int64(uint8) = %d, %v", n, ok)
	}
	if n, ok := native.Uint64(-1.0); !ok || n != ^uint64(0) {
		t.Errorf("Uint64(-1.0) = %d, %v", n, ok)
	}
	if f, ok := native.Float64(int32(-4)); !ok || f != -4 {
		t.Errorf("Float64(int32) = %v", f)
	}
	if _, ok := native.Int64("x"); ok {
		t.Error("string is not numeric")
	}
	if !native.IsNull(native.Address(0)) || native.IsNull(native.Address(1)) || !native.IsNull(nil) {
		t.Error("IsNull")
	}
	if a, ok := native.AddressOf(uint64(16)); !ok || a != 16 {
		t.Errorf("AddressOf = %v", a)
	}
}

func TestAllocations(t *testing.T) {
	space := arena.New(0)
	addr, err := space.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}

	var none *native.Allocations
	none.Add(addr, 16, 8)
	if none.Count() != 0 {
		t.Errorf("nil list count = %d", none.Count())
	}
	none.Free(space)
	none.Release(space)
	if space.Live() != 1 {
		t.Errorf("live blocks = %d after nil list release", space.Live())
	}

	owned := native.NewAllocations()
	owned.Add(addr, 16, 8)
	if owned.Count() != 1 {
		t.Errorf("count = %d", owned.Count())
	}
	owned.Release(space)
	if space.Live() != 0 {
		t.Errorf("live blocks = %d after release", space.Live())
	}
}
