package wasm

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/drawbridge"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/layout"
	"github.com/wippyai/drawbridge/native"
)

// Library is one instance of a wasm module
type Library struct {
	mod      api.Module
	mem      *Memory
	sigs     map[string]Signature
	calc     *layout.Calculator
	name     string
	ordinals []string
}

func (lib *Library) Name() string            { return lib.name }
func (lib *Library) ABI() ctype.ABI          { return ctype.Wasm32 }
func (lib *Library) Space() drawbridge.Space { return lib.mem }

// Memory returns the instance's linear memory
func (lib *Library) Memory() *Memory { return lib.mem }

func (lib *Library) Symbol(ctx context.Context, name string) (native.Symbol, error) {
	export := name
	if n, err := strconv.Atoi(name); err == nil {
		if n < 1 || n > len(lib.ordinals) {
			return nil, errors.NotFound(errors.PhaseLoad, "ordinal", name)
		}
		export = lib.ordinals[n-1]
	}
	fn := lib.mod.ExportedFunction(export)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "routine", name)
	}
	s := &Symbol{name: export, fn: fn, lib: lib}
	if sig, ok := lib.sigs[export]; ok {
		s.sig = &sig
	}
	return s, nil
}

// Exports lists exported functions in ordinal order
func (lib *Library) Exports() []string {
	return append([]string(nil), lib.ordinals...)
}

func (lib *Library) Close(ctx context.Context) error {
	return lib.mod.Close(ctx)
}

// Symbol is an exported function. Calls on one Symbol are serialized since
// a wasm instance is single threaded.
type Symbol struct {
	fn     api.Function
	result ctype.Type
	lib    *Library
	sig    *Signature
	name   string
	args   []ctype.Type
	typed  bool
	mu     sync.Mutex
}

func (s *Symbol) Name() string { return s.name }

// Signature returns the signature declared in the module's WIT, if any
func (s *Symbol) Signature() ([]ctype.Type, ctype.Type, bool) {
	if s.sig == nil {
		return nil, nil, false
	}
	return s.sig.Args, s.sig.Result, true
}

func (s *Symbol) SetTypes(args []ctype.Type, result ctype.Type) error {
	params := s.fn.Definition().ParamTypes()
	if args != nil && len(args) != len(params) {
		return errors.New(errors.PhaseLoad, errors.KindArgCount).
			Detail("%s takes %d parameters, %d declared", s.name, len(params), len(args)).
			Build()
	}
	s.mu.Lock()
	s.args = args
	s.result = result
	s.typed = args != nil
	s.mu.Unlock()
	return nil
}

type writeback struct {
	dst  any
	typ  ctype.Type
	addr uint64
}

func (s *Symbol) Call(ctx context.Context, args []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def := s.fn.Definition()
	params := def.ParamTypes()
	if len(args) != len(params) {
		return nil, errors.ArgCount(errors.PhaseCall, len(args), len(params))
	}

	types, result := s.args, s.result
	if !s.typed {
		types, result = s.defaultTypes(def)
	}

	allocs := native.NewAllocations()
	defer allocs.Release(s.lib.mem)

	lowered := make([]uint64, len(params))
	var syncs []writeback
	for i, v := range args {
		raw, wb, err := s.lower(params[i], types[i], v, allocs)
		if err != nil {
			return nil, errors.New(errors.PhaseCall, errors.KindTypeMismatch).
				Path(strconv.Itoa(i)).
				Cause(err).
				Detail("lower argument of %s", s.name).
				Build()
		}
		lowered[i] = raw
		if wb != nil {
			syncs = append(syncs, *wb)
		}
	}

	results, err := s.fn.Call(ctx, lowered...)
	if err != nil {
		return nil, errors.New(errors.PhaseCall, errors.KindForeign).
			Cause(err).
			GoType(fmt.Sprintf("%T", err)).
			Detail("%s trapped", s.name).
			Build()
	}

	for _, wb := range syncs {
		v, err := native.Load(s.lib.mem, s.lib.calc, wb.addr, wb.typ)
		if err != nil {
			return nil, err
		}
		native.Assign(wb.dst, v)
	}

	Logger().Debug("wasm call",
		zap.String("routine", s.name),
		zap.Int("args", len(args)),
		zap.Int("allocations", allocs.Count()))

	if len(results) == 0 {
		return nil, nil
	}
	return s.lift(result, results[0])
}

// defaultTypes derives a signature from WIT when declared, otherwise from
// the core wasm value types.
func (s *Symbol) defaultTypes(def api.FunctionDefinition) ([]ctype.Type, ctype.Type) {
	if s.sig != nil && len(s.sig.Args) == len(def.ParamTypes()) {
		return s.sig.Args, s.sig.Result
	}
	types := make([]ctype.Type, len(def.ParamTypes()))
	for i, vt := range def.ParamTypes() {
		types[i] = valueType(vt)
	}
	var result ctype.Type
	if rt := def.ResultTypes(); len(rt) > 0 {
		result = valueType(rt[0])
	}
	return types, result
}

func valueType(vt api.ValueType) ctype.Type {
	switch vt {
	case api.ValueTypeI64:
		return ctype.Int64
	case api.ValueTypeF32:
		return ctype.Float
	case api.ValueTypeF64:
		return ctype.Double
	}
	return ctype.Int32
}

// lower converts one native value to a core wasm parameter. Values behind
// pointers are materialized in guest memory; mutable ones are read back
// after the call.
func (s *Symbol) lower(vt api.ValueType, t ctype.Type, v any, allocs *native.Allocations) (uint64, *writeback, error) {
	mem, calc := s.lib.mem, s.lib.calc

	switch typ := t.(type) {
	case *ctype.Scalar:
		switch typ.Class() {
		case ctype.ClassString, ctype.ClassWString, ctype.ClassAddress:
			addr, err := native.New(mem, calc, ctype.VoidP, nil, allocs)
			if err != nil {
				return 0, nil, err
			}
			if err := native.Store(mem, calc, uint64(addr), typ, v, allocs); err != nil {
				return 0, nil, err
			}
			p, err := native.ReadPointer(mem, ctype.Wasm32, uint64(addr))
			if err != nil {
				return 0, nil, err
			}
			if c, ok := v.(*native.Cell); ok && typ.Class() == ctype.ClassAddress {
				return uint64(p), &writeback{dst: c, typ: ctype.VoidP, addr: uint64(p)}, nil
			}
			return uint64(p), nil, nil
		}
		return encodeScalar(vt, native.Deref(v))

	case *ctype.Pointer:
		switch p := v.(type) {
		case nil:
			return 0, nil, nil
		case native.Address:
			return uint64(p), nil, nil
		case *native.Cell:
			addr, err := native.New(mem, calc, typ.Elem, p.Value, allocs)
			if err != nil {
				return 0, nil, err
			}
			return uint64(addr), &writeback{dst: p, typ: typ.Elem, addr: uint64(addr)}, nil
		case string:
			addr, err := native.WriteCString(mem, p, allocs)
			return uint64(addr), nil, err
		}
		addr, err := native.New(mem, calc, typ.Elem, v, allocs)
		if err != nil {
			return 0, nil, err
		}
		return uint64(addr), &writeback{dst: v, typ: typ.Elem, addr: uint64(addr)}, nil

	case *ctype.Array:
		if a, ok := v.(native.Address); ok {
			return uint64(a), nil, nil
		}
		addr, err := native.New(mem, calc, typ, v, allocs)
		if err != nil {
			return 0, nil, err
		}
		return uint64(addr), &writeback{dst: native.Deref(v), typ: typ, addr: uint64(addr)}, nil

	case *ctype.Struct:
		// aggregates travel by hidden pointer in the wasm32 C ABI
		addr, err := native.New(mem, calc, typ, v, allocs)
		return uint64(addr), nil, err

	case *ctype.Func:
		if _, ok := v.(*native.Callback); ok {
			return 0, nil, errors.Unsupported(errors.PhaseCall, "function pointers into wasm guests")
		}
		a, ok := native.AddressOf(v)
		if !ok {
			return 0, nil, errors.TypeMismatch(errors.PhaseCall, nil, fmt.Sprintf("%T", v), typ.String())
		}
		return uint64(a), nil, nil

	case *ctype.Custom:
		if typ.Adapter != nil {
			conv, err := typ.Adapter.FromParam(v)
			if err != nil {
				return 0, nil, err
			}
			v = conv
		}
		a, ok := native.AddressOf(v)
		if !ok {
			return 0, nil, errors.TypeMismatch(errors.PhaseCall, nil, fmt.Sprintf("%T", v), typ.String())
		}
		return uint64(a), nil, nil
	}
	return encodeScalar(vt, v)
}

func encodeScalar(vt api.ValueType, v any) (uint64, *writeback, error) {
	if str, ok := v.(string); ok {
		r := []rune(str)
		if len(r) != 1 {
			return 0, nil, errors.TypeMismatch(errors.PhaseCall, nil, "string", "scalar")
		}
		v = r[0]
	}
	switch vt {
	case api.ValueTypeF32:
		f, ok := native.Float64(v)
		if !ok {
			return 0, nil, errors.TypeMismatch(errors.PhaseCall, nil, fmt.Sprintf("%T", v), "f32")
		}
		return api.EncodeF32(float32(f)), nil, nil
	case api.ValueTypeF64:
		f, ok := native.Float64(v)
		if !ok {
			return 0, nil, errors.TypeMismatch(errors.PhaseCall, nil, fmt.Sprintf("%T", v), "f64")
		}
		return api.EncodeF64(f), nil, nil
	case api.ValueTypeI64:
		n, ok := native.Uint64(v)
		if !ok {
			return 0, nil, errors.TypeMismatch(errors.PhaseCall, nil, fmt.Sprintf("%T", v), "i64")
		}
		return n, nil, nil
	}
	n, ok := native.Uint64(v)
	if !ok {
		return 0, nil, errors.TypeMismatch(errors.PhaseCall, nil, fmt.Sprintf("%T", v), "i32")
	}
	return api.EncodeU32(uint32(n)), nil, nil
}

// lift converts a core wasm result to a native value of type t
func (s *Symbol) lift(t ctype.Type, raw uint64) (any, error) {
	switch typ := t.(type) {
	case nil:
		return nil, nil
	case *ctype.Scalar:
		size := ctype.Wasm32.SizeOf(typ)
		switch typ.Class() {
		case ctype.ClassBool:
			return raw != 0, nil
		case ctype.ClassSigned:
			switch size {
			case 1:
				return int64(int8(raw)), nil
			case 2:
				return int64(int16(raw)), nil
			case 4:
				return int64(int32(raw)), nil
			}
			return int64(raw), nil
		case ctype.ClassUnsigned:
			if size < 8 {
				return uint64(uint32(raw)) & (1<<(size*8) - 1), nil
			}
			return raw, nil
		case ctype.ClassFloat:
			if size == 4 {
				return float64(api.DecodeF32(raw)), nil
			}
			return api.DecodeF64(raw), nil
		case ctype.ClassChar:
			return byte(raw), nil
		case ctype.ClassWChar:
			return rune(uint32(raw)), nil
		case ctype.ClassString:
			if uint32(raw) == 0 {
				return nil, nil
			}
			return native.ReadCString(s.lib.mem, uint64(uint32(raw)))
		case ctype.ClassWString:
			if uint32(raw) == 0 {
				return nil, nil
			}
			return native.ReadWString(s.lib.mem, uint64(uint32(raw)), ctype.Wasm32.WCharSize)
		case ctype.ClassAddress:
			if uint32(raw) == 0 {
				return nil, nil
			}
			return native.Address(uint32(raw)), nil
		}
	case *ctype.Pointer, *ctype.Func, *ctype.Custom:
		if uint32(raw) == 0 {
			return nil, nil
		}
		return native.Address(uint32(raw)), nil
	}
	return nil, errors.Unsupported(errors.PhaseCall, fmt.Sprintf("%v result from wasm", t))
}
