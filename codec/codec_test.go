package codec

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wippyai/drawbridge/cache"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/native"
	"github.com/wippyai/drawbridge/native/arena"
)

// roundTrip passes v through msgpack the way the rpc layer does
func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	raw, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	dec := msgpack.NewDecoder(strings.NewReader(string(raw)))
	dec.UseLooseInterfaceDecoding(true)
	var out T
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return out
}

func define(t *testing.T, typ ctype.Type) definition.Definition {
	t.Helper()
	d, err := definition.NewBuilder(cache.New(), ctype.LP64).FromNative(typ)
	if err != nil {
		t.Fatalf("FromNative: %v", err)
	}
	return d
}

func TestPackItem_NestedArrays(t *testing.T) {
	c := New(cache.New(), nil, nil)
	tests := []struct {
		name string
		typ  ctype.Type
		in   any
	}{
		{"depth 1", ctype.ArrayOf(ctype.Int, 3), []any{int64(1), int64(-2), int64(3)}},
		{"depth 2", ctype.ArrayOf(ctype.ArrayOf(ctype.Double, 2), 2), []any{[]any{1.5, 2.5}, []any{-3.0, 4.25}}},
		{"depth 3", ctype.ArrayOf(ctype.ArrayOf(ctype.ArrayOf(ctype.UByte, 2), 1), 2),
			[]any{[]any{[]any{uint64(1), uint64(255)}}, []any{[]any{uint64(0), uint64(7)}}}},
		{"short", ctype.ArrayOf(ctype.Int, 4), []any{int64(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := define(t, tt.typ)
			packed, err := c.PackItem(tt.in, def)
			if err != nil {
				t.Fatalf("PackItem: %v", err)
			}
			got, err := c.UnpackItem(roundTrip(t, packed), def)
			if err != nil {
				t.Fatalf("UnpackItem: %v", err)
			}
			if !reflect.DeepEqual(got, tt.in) {
				t.Errorf("got %#v, want %#v", got, tt.in)
			}
		})
	}
}

func TestPackItem_PointersAndStructs(t *testing.T) {
	c := New(cache.New(), nil, nil)
	point := ctype.NewStruct("point",
		ctype.Field{Name: "x", Type: ctype.Int},
		ctype.Field{Name: "label", Type: ctype.CharP},
		ctype.Field{Name: "next", Type: ctype.PointerTo(ctype.Double)},
	)
	def := define(t, ctype.PointerTo(point))
	in := native.Ref(native.StructOf("x", int64(4), "label", "p", "next", native.Ref(2.5)))

	packed, err := c.PackItem(in, def)
	if err != nil {
		t.Fatalf("PackItem: %v", err)
	}
	if want := []any{int64(4), "p", 2.5}; !reflect.DeepEqual(packed, want) {
		t.Errorf("packed = %#v, want %#v", packed, want)
	}

	got, err := c.UnpackItem(roundTrip(t, packed), def)
	if err != nil {
		t.Fatalf("UnpackItem: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("got %#v, want %#v", got, in)
	}

	if packed, err := c.PackItem(nil, def); err != nil || packed != nil {
		t.Errorf("null pointer packed as %v, %v", packed, err)
	}
}

func TestPackItem_Errors(t *testing.T) {
	c := New(cache.New(), nil, nil)
	point := ctype.NewStruct("point", ctype.Field{Name: "x", Type: ctype.Int})
	tests := []struct {
		name string
		typ  ctype.Type
		in   any
		kind errors.Kind
	}{
		{"string as int", ctype.Int, "seven", errors.KindTypeMismatch},
		{"array overflow", ctype.ArrayOf(ctype.Int, 1), []any{int64(1), int64(2)}, errors.KindFlag},
		{"scalar as array", ctype.ArrayOf(ctype.Int, 2), int64(1), errors.KindTypeMismatch},
		{"missing field", point, native.StructOf("y", int64(1)), errors.KindFieldMissing},
		{"callback without bridge", ctype.NewFunc(ctype.Int, ctype.Int), native.NewCallback(nil), errors.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.PackItem(tt.in, define(t, tt.typ))
			if !errors.Is(err, &errors.Error{Phase: errors.PhaseCodec, Kind: tt.kind}) {
				t.Errorf("got %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestPackArgs_Count(t *testing.T) {
	c := New(cache.New(), nil, nil)
	fn, err := definition.NewBuilder(c.Cache(), ctype.LP64).Routine([]ctype.Type{ctype.Int}, ctype.Int, ctype.Cdecl, nil)
	if err != nil {
		t.Fatal(err)
	}

	strict := NewSignature("f", fn, false)
	if _, err := c.PackArgs([]any{int64(1), int64(2)}, strict); !errors.Is(err, &errors.Error{Kind: errors.KindArgCount}) {
		t.Errorf("over-supply on strict signature: %v", err)
	}
	if _, err := c.PackArgs(nil, strict); !errors.Is(err, &errors.Error{Kind: errors.KindArgCount}) {
		t.Errorf("under-supply: %v", err)
	}

	variadic := NewSignature("f", fn, true)
	packed, err := c.PackArgs([]any{int64(1), "extra", native.Address(8)}, variadic)
	if err != nil {
		t.Fatalf("variadic: %v", err)
	}
	if want := []any{int64(1), "extra", uint64(8)}; !reflect.DeepEqual(packed, want) {
		t.Errorf("packed = %#v", packed)
	}

	untyped := &Signature{Name: "g"}
	if _, err := c.PackArgs([]any{1, 2, 3}, untyped); err != nil {
		t.Errorf("untyped: %v", err)
	}
}

func TestSyncArgs_InPlace(t *testing.T) {
	c := New(cache.New(), nil, nil)
	pair := ctype.NewStruct("pair", ctype.Field{Name: "a", Type: ctype.Int}, ctype.Field{Name: "b", Type: ctype.PointerTo(ctype.Int)})
	fn, err := definition.NewBuilder(c.Cache(), ctype.LP64).Routine(
		[]ctype.Type{ctype.PointerTo(ctype.Int), ctype.ArrayOf(ctype.Int, 2), ctype.PointerTo(pair), ctype.Int},
		nil, ctype.Cdecl, nil)
	if err != nil {
		t.Fatal(err)
	}
	sig := NewSignature("f", fn, false)

	cell := native.Ref(int64(1))
	arr := []any{int64(1), int64(2)}
	inner := native.Ref(int64(5))
	st := native.StructOf("a", int64(1), "b", inner)
	outer := native.Ref(st)
	old := []any{cell, arr, outer, int64(3)}

	updated := []any{
		native.Ref(int64(10)),
		[]any{int64(20), int64(21)},
		native.Ref(native.StructOf("a", int64(30), "b", native.Ref(int64(31)))),
		int64(40),
	}
	c.SyncArgs(old, updated, sig)

	if cell.Value != int64(10) {
		t.Errorf("cell = %v", cell.Value)
	}
	if arr[0] != int64(20) || arr[1] != int64(21) {
		t.Errorf("array = %v", arr)
	}
	if outer.Value != st {
		t.Error("struct identity replaced instead of updated")
	}
	if a, _ := st.Get("a"); a != int64(30) {
		t.Errorf("field a = %v", a)
	}
	if inner.Value != int64(31) {
		t.Errorf("nested cell = %v", inner.Value)
	}
}

// peer wires a caller codec to a callee codec through msgpack
type peer struct {
	caller, callee         *Codec
	callerSide, calleeSide *definition.Side
	callerSig, calleeSig   *Signature
}

func newPeer(t *testing.T, args []ctype.Type, result ctype.Type, ms ...ctype.Memsync) *peer {
	t.Helper()
	p := &peer{
		caller:     New(cache.New(), nil, nil),
		callee:     New(cache.New(), nil, nil),
		callerSide: definition.NewSide(arena.New(0x10000), ctype.LP64),
		calleeSide: definition.NewSide(arena.New(0x800000), ctype.Win32),
	}
	fn, err := definition.NewBuilder(p.caller.Cache(), ctype.Win32).Routine(args, result, ctype.Cdecl, ms)
	if err != nil {
		t.Fatalf("Routine: %v", err)
	}
	p.callerSig = NewSignature("f", fn, false)

	w := roundTrip(t, fn.Wire())
	rebuilt, err := definition.NewBuilder(p.callee.Cache(), ctype.Win32).FromWire(w)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	p.calleeSig = NewSignature("f", rebuilt.(*definition.Func), false)
	return p
}

func (p *peer) call(t *testing.T, fn native.Func, args ...any) (any, error) {
	t.Helper()
	invoke := func(ctx context.Context, req *Request) (*Envelope, error) {
		env := p.callee.Serve(ctx, p.calleeSig, p.calleeSide, fn, roundTrip(t, req))
		return roundTrip(t, env), nil
	}
	return p.caller.Call(context.Background(), p.callerSig, p.callerSide, invoke, args)
}

func TestCall_ByReference(t *testing.T) {
	p := newPeer(t, []ctype.Type{ctype.Int, ctype.Int, ctype.PointerTo(ctype.Int)}, ctype.Int)

	divide := func(_ context.Context, args []any) (any, error) {
		a, b := args[0].(int64), args[1].(int64)
		args[2].(*native.Cell).Value = a % b
		return a / b, nil
	}
	rem := native.Ref(int64(0))
	got, err := p.call(t, divide, int64(11), int64(3), rem)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != int64(3) || rem.Value != int64(2) {
		t.Errorf("got %v remainder %v, want 3 remainder 2", got, rem.Value)
	}
}

func TestCall_MemsyncBubbleSort(t *testing.T) {
	p := newPeer(t, []ctype.Type{ctype.PointerTo(ctype.Float), ctype.Int}, nil,
		ctype.Memsync{Pointer: []any{0}, Length: []any{1}, Elem: ctype.Float})

	space := p.callerSide.Space
	calc := p.callerSide.Calc
	in := []any{5.74, 3.72, 6.28}
	addr, err := native.New(space, calc, ctype.ArrayOf(ctype.Float, 3), in, nil)
	if err != nil {
		t.Fatal(err)
	}

	sortFloats := func(_ context.Context, args []any) (any, error) {
		buf := args[0].(native.Address)
		n := int(args[1].(int64))
		typ := ctype.ArrayOf(ctype.Float, n)
		v, err := native.Load(p.calleeSide.Space, p.calleeSide.Calc, uint64(buf), typ)
		if err != nil {
			return nil, err
		}
		vals := v.([]any)
		sort.Slice(vals, func(i, j int) bool { return vals[i].(float64) < vals[j].(float64) })
		return nil, native.Store(p.calleeSide.Space, p.calleeSide.Calc, uint64(buf), typ, vals, nil)
	}
	if _, err := p.call(t, sortFloats, addr, int64(3)); err != nil {
		t.Fatalf("Call: %v", err)
	}

	v, err := native.Load(space, calc, uint64(addr), ctype.ArrayOf(ctype.Float, 3))
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{3.72, 5.74, 6.28}
	for i, f := range v.([]any) {
		if float32(f.(float64)) != want[i] {
			t.Errorf("element %d = %v, want %v", i, f, want[i])
		}
	}
}

type divideByZero struct{}

func (divideByZero) Error() string { return "division by zero" }

func TestCall_ErrorAfterPartialResults(t *testing.T) {
	p := newPeer(t, []ctype.Type{ctype.Int, ctype.PointerTo(ctype.Int)}, ctype.Int)

	failing := func(_ context.Context, args []any) (any, error) {
		args[1].(*native.Cell).Value = int64(99)
		return nil, divideByZero{}
	}
	out := native.Ref(int64(0))
	_, err := p.call(t, failing, int64(1), out)

	var e *errors.Error
	if !errors.As(err, &e) {
		t.Fatalf("error %v (%T) is not structured", err, err)
	}
	if e.Kind != errors.KindForeign || e.Detail != "division by zero" {
		t.Errorf("error = %v", e)
	}
	if !strings.Contains(e.GoType, "divideByZero") {
		t.Errorf("GoType = %q", e.GoType)
	}
	if out.Value != int64(99) {
		t.Errorf("partial result lost: %v", out.Value)
	}
}

func TestServe_RecoversPanic(t *testing.T) {
	p := newPeer(t, []ctype.Type{ctype.Int}, ctype.Int)
	_, err := p.call(t, func(context.Context, []any) (any, error) { panic("boom") }, int64(1))
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindForeign}) {
		t.Errorf("got %v", err)
	}
}

func TestServe_ArgCountReported(t *testing.T) {
	p := newPeer(t, []ctype.Type{ctype.Int, ctype.Int}, ctype.Int)
	env := p.callee.Serve(context.Background(), p.calleeSig, p.calleeSide,
		func(context.Context, []any) (any, error) { return nil, nil },
		&Request{Args: []any{int64(1)}})
	if env.Success || env.Exception == nil || env.Exception.Kind != errors.KindArgCount {
		t.Errorf("envelope = %+v", env)
	}
}

// fakeBridge resolves callbacks within one process
type fakeBridge struct {
	held  map[string]*native.Callback
	holds int
}

func (b *fakeBridge) Hold(cb *native.Callback, _ *definition.Func) (string, error) {
	if _, ok := b.held[cb.Name()]; !ok {
		b.held[cb.Name()] = cb
		b.holds++
	}
	return cb.Name(), nil
}

func (b *fakeBridge) Stub(name string, _ *definition.Func) (*native.Callback, error) {
	cb, ok := b.held[name]
	if !ok {
		return nil, fmt.Errorf("no callback %s", name)
	}
	return cb, nil
}

func TestCall_Callback(t *testing.T) {
	p := newPeer(t, []ctype.Type{ctype.NewFunc(ctype.Int, ctype.Int), ctype.Int}, ctype.Int)
	bridge := &fakeBridge{held: map[string]*native.Callback{}}
	p.caller.SetBridge(bridge)
	p.callee.SetBridge(bridge)

	calls := 0
	square := native.NewCallback(func(_ context.Context, args []any) (any, error) {
		calls++
		n, _ := native.Int64(args[0])
		return n * n, nil
	})
	sumSquares := func(ctx context.Context, args []any) (any, error) {
		cb := args[0].(*native.Callback)
		var total int64
		for i := int64(1); i <= args[1].(int64); i++ {
			v, err := cb.Call(ctx, i)
			if err != nil {
				return nil, err
			}
			total += v.(int64)
		}
		return total, nil
	}

	for range 3 {
		got, err := p.call(t, sumSquares, square, int64(3))
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if got != int64(14) {
			t.Errorf("got %v, want 14", got)
		}
	}
	if bridge.holds != 1 || calls != 9 {
		t.Errorf("holds = %d calls = %d, want 1 and 9", bridge.holds, calls)
	}
}
