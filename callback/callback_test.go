package callback

import (
	"bytes"
	"context"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wippyai/drawbridge/cache"
	"github.com/wippyai/drawbridge/codec"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/native"
	"github.com/wippyai/drawbridge/native/arena"
	"github.com/wippyai/drawbridge/rpc"
)

func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	raw, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	var out T
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return out
}

type half struct {
	cache  *cache.Cache
	codec  *codec.Codec
	server *rpc.Server
	bridge *Bridge
	side   *definition.Side
}

func newHalf(t *testing.T, base uint64, abi ctype.ABI) *half {
	t.Helper()
	h := &half{
		cache:  cache.New(),
		server: rpc.NewServer(nil),
		side:   definition.NewSide(arena.New(base), abi),
	}
	h.codec = codec.New(h.cache, nil, nil)
	h.bridge = NewBridge(h.codec, h.server, h.side, nil)
	if err := h.server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.server.Serve(ctx) }()
	t.Cleanup(cancel)
	return h
}

// connect points a's callback stubs at b's server
func connect(t *testing.T, a, b *half) {
	t.Helper()
	c, err := rpc.Dial(context.Background(), b.server.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	a.bridge.SetPeer(c)
}

type pair struct {
	caller, callee       *half
	callerSig, calleeSig *codec.Signature
}

func newPair(t *testing.T, args []ctype.Type, result ctype.Type) *pair {
	t.Helper()
	p := &pair{
		caller: newHalf(t, 0x10000, ctype.LP64),
		callee: newHalf(t, 0x800000, ctype.Win32),
	}
	connect(t, p.caller, p.callee)
	connect(t, p.callee, p.caller)

	fn, err := definition.NewBuilder(p.caller.cache, ctype.Win32).Routine(args, result, ctype.Cdecl, nil)
	if err != nil {
		t.Fatalf("Routine: %v", err)
	}
	p.callerSig = codec.NewSignature("f", fn, false)
	rebuilt, err := definition.NewBuilder(p.callee.cache, ctype.Win32).FromWire(roundTrip(t, fn.Wire()))
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	p.calleeSig = codec.NewSignature("f", rebuilt.(*definition.Func), false)
	return p
}

func (p *pair) call(t *testing.T, fn native.Func, args ...any) (any, error) {
	t.Helper()
	invoke := func(ctx context.Context, req *codec.Request) (*codec.Envelope, error) {
		env := p.callee.codec.Serve(ctx, p.calleeSig, p.callee.side, fn, roundTrip(t, req))
		return roundTrip(t, env), nil
	}
	return p.caller.codec.Call(context.Background(), p.callerSig, p.caller.side, invoke, args)
}

func sumSquares(ctx context.Context, args []any) (any, error) {
	cb, ok := args[0].(*native.Callback)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseCall, "not a callback")
	}
	var total int64
	for i := int64(1); i <= args[1].(int64); i++ {
		v, err := cb.Call(ctx, i)
		if err != nil {
			return nil, err
		}
		n, _ := native.Int64(v)
		total += n
	}
	return total, nil
}

func TestBridge_CallbackRegisteredOnce(t *testing.T) {
	p := newPair(t, []ctype.Type{ctype.NewFunc(ctype.Int, ctype.Int), ctype.Int}, ctype.Int)

	square := native.NewCallback(func(_ context.Context, args []any) (any, error) {
		n, _ := native.Int64(args[0])
		return n * n, nil
	})
	for range 3 {
		got, err := p.call(t, sumSquares, square, int64(3))
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if got != int64(14) {
			t.Errorf("got %v, want 14", got)
		}
	}

	h, ok := p.caller.cache.Handle(square.Name())
	if !ok {
		t.Fatal("callback not held")
	}
	if calls := h.(*Client).Calls(); calls != 9 {
		t.Errorf("calls = %d, want 9", calls)
	}
	if n := p.caller.cache.Handles(); n != 1 {
		t.Errorf("caller handles = %d, want 1", n)
	}
	if n := p.callee.cache.Handles(); n != 1 {
		t.Errorf("callee handles = %d, want 1", n)
	}
	if !p.caller.server.Registered(square.Name()) {
		t.Error("callback not registered with the caller's server")
	}
}

func TestBridge_CallbackError(t *testing.T) {
	p := newPair(t, []ctype.Type{ctype.NewFunc(ctype.Int, ctype.Int), ctype.Int}, ctype.Int)

	failing := native.NewCallback(func(context.Context, []any) (any, error) {
		return nil, errors.InvalidInput(errors.PhaseCall, "negative input")
	})
	_, err := p.call(t, sumSquares, failing, int64(2))
	if err == nil {
		t.Fatal("expected an error")
	}
	var e *errors.Error
	if !errors.As(err, &e) {
		t.Fatalf("error %T is not structured", err)
	}
}

func TestBridge_StubReused(t *testing.T) {
	h := newHalf(t, 0x10000, ctype.LP64)
	fn, err := definition.NewBuilder(h.cache, ctype.LP64).Routine([]ctype.Type{ctype.Int}, ctype.Int, ctype.Cdecl, nil)
	if err != nil {
		t.Fatalf("Routine: %v", err)
	}
	a, err := h.bridge.Stub("func_1", fn)
	if err != nil {
		t.Fatalf("Stub: %v", err)
	}
	b, err := h.bridge.Stub("func_1", fn)
	if err != nil {
		t.Fatalf("Stub: %v", err)
	}
	if a != b {
		t.Error("stub was created twice")
	}

	// handing the stub back resolves to the same name without registering
	name, err := h.bridge.Hold(a, fn)
	if err != nil || name != "func_1" {
		t.Errorf("Hold = %q, %v", name, err)
	}
	if h.server.Registered("func_1") {
		t.Error("stub registered as a held callback")
	}
}

func TestBridge_NameCollision(t *testing.T) {
	h := newHalf(t, 0x10000, ctype.LP64)
	fn, err := definition.NewBuilder(h.cache, ctype.LP64).Routine(nil, ctype.Int, ctype.Cdecl, nil)
	if err != nil {
		t.Fatalf("Routine: %v", err)
	}
	noop := func(context.Context, []any) (any, error) { return int64(0), nil }
	if _, err := h.bridge.Hold(native.NamedCallback("cb", noop), fn); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	_, err = h.bridge.Hold(native.NamedCallback("cb", noop), fn)
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseCodec, Kind: errors.KindInvalidInput}) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestBridge_StubWithoutPeer(t *testing.T) {
	h := newHalf(t, 0x10000, ctype.LP64)
	fn, err := definition.NewBuilder(h.cache, ctype.LP64).Routine([]ctype.Type{ctype.Int}, ctype.Int, ctype.Cdecl, nil)
	if err != nil {
		t.Fatalf("Routine: %v", err)
	}
	cb, err := h.bridge.Stub("func_2", fn)
	if err != nil {
		t.Fatalf("Stub: %v", err)
	}
	_, err = cb.Call(context.Background(), int64(1))
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseTransport, Kind: errors.KindClosed}) {
		t.Errorf("err = %v, want closed", err)
	}
}
