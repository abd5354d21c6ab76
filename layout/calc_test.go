package layout

import (
	"testing"

	"github.com/wippyai/drawbridge/ctype"
)

func TestCalculateScalars(t *testing.T) {
	c := NewCalculator(ctype.LP64)

	tests := []struct {
		typ   ctype.Type
		size  uint32
		align uint32
	}{
		{ctype.Bool, 1, 1},
		{ctype.Int16, 2, 2},
		{ctype.Int, 4, 4},
		{ctype.Long, 8, 8},
		{ctype.Double, 8, 8},
		{ctype.VoidP, 8, 8},
		{ctype.PointerTo(ctype.Float), 8, 8},
		{ctype.NewFunc(ctype.Int, ctype.Int), 8, 8},
		{ctype.ArrayOf(ctype.Float, 3), 12, 4},
		{ctype.ArrayOf(ctype.ArrayOf(ctype.Int16, 2), 3), 12, 2},
	}

	for _, tc := range tests {
		t.Run(tc.typ.String(), func(t *testing.T) {
			info := c.Calculate(tc.typ)
			if info.Size != tc.size {
				t.Errorf("size: got %d, want %d", info.Size, tc.size)
			}
			if info.Align != tc.align {
				t.Errorf("align: got %d, want %d", info.Align, tc.align)
			}
		})
	}
}

func TestCalculateStruct(t *testing.T) {
	image := ctype.NewStruct("image",
		ctype.Field{Name: "data", Type: ctype.PointerTo(ctype.Int16)},
		ctype.Field{Name: "width", Type: ctype.Int},
		ctype.Field{Name: "height", Type: ctype.Int},
	)

	tests := []struct {
		abi   ctype.ABI
		size  uint32
		align uint32
		offs  []uint32
	}{
		{ctype.LP64, 16, 8, []uint32{0, 8, 12}},
		{ctype.Win32, 12, 4, []uint32{0, 4, 8}},
	}

	for _, tc := range tests {
		t.Run(tc.abi.Name, func(t *testing.T) {
			info := NewCalculator(tc.abi).Calculate(image)
			if info.Size != tc.size || info.Align != tc.align {
				t.Errorf("got size %d align %d, want %d %d", info.Size, info.Align, tc.size, tc.align)
			}
			for i, off := range tc.offs {
				if info.FieldOffs[i] != off {
					t.Errorf("field %d offset: got %d, want %d", i, info.FieldOffs[i], off)
				}
			}
		})
	}
}

func TestCalculateStructPadding(t *testing.T) {
	s := ctype.NewStruct("",
		ctype.Field{Name: "a", Type: ctype.Char},
		ctype.Field{Name: "b", Type: ctype.Double},
		ctype.Field{Name: "c", Type: ctype.Char},
	)

	if got := NewCalculator(ctype.LP64).SizeOf(s); got != 24 {
		t.Errorf("lp64 size = %d, want 24", got)
	}
	if got := NewCalculator(ctype.ILP32).SizeOf(s); got != 16 {
		t.Errorf("ilp32 size = %d, want 16", got)
	}
}

func TestCalculateCached(t *testing.T) {
	c := NewCalculator(ctype.LP64)
	s := ctype.NewStruct("", ctype.Field{Name: "x", Type: ctype.Int})
	first := c.Calculate(s)
	second := c.Calculate(s)
	if &first.FieldOffs[0] != &second.FieldOffs[0] {
		t.Error("layout should be cached per struct")
	}
}

func TestAlignTo(t *testing.T) {
	tests := []struct{ off, align, want uint32 }{
		{0, 4, 0}, {1, 4, 4}, {4, 4, 4}, {5, 8, 8}, {7, 0, 7},
	}
	for _, tc := range tests {
		if got := AlignTo(tc.off, tc.align); got != tc.want {
			t.Errorf("AlignTo(%d, %d) = %d, want %d", tc.off, tc.align, got, tc.want)
		}
	}
}
