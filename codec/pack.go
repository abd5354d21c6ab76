package codec

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/native"
)

// PackArgs packs call arguments. Arguments beyond the declared ones are
// accepted only for variadic or untyped signatures and pass through as
// plain values.
func (c *Codec) PackArgs(args []any, sig *Signature) ([]any, error) {
	if err := checkCount(len(args), sig); err != nil {
		return nil, err
	}
	out := make([]any, len(args))
	for i, v := range args {
		path := []string{strconv.Itoa(i)}
		if !sig.Typed || i >= len(sig.Args) {
			p, err := packPlain(v, path)
			if err != nil {
				return nil, err
			}
			out[i] = p
			continue
		}
		p, err := c.packItem(v, sig.Args[i], sig.Args[i].Flags(), path)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// UnpackArgs is the inverse of PackArgs
func (c *Codec) UnpackArgs(args []any, sig *Signature) ([]any, error) {
	if err := checkCount(len(args), sig); err != nil {
		return nil, err
	}
	out := make([]any, len(args))
	for i, v := range args {
		if !sig.Typed || i >= len(sig.Args) {
			out[i] = v
			continue
		}
		u, err := c.unpackItem(v, sig.Args[i], sig.Args[i].Flags(), []string{strconv.Itoa(i)})
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}

func checkCount(got int, sig *Signature) error {
	if !sig.Typed {
		return nil
	}
	want := len(sig.Args)
	if got < want || (got > want && !sig.Variadic) {
		return errors.ArgCount(errors.PhaseCodec, got, want)
	}
	return nil
}

// PackItem packs one value described by def
func (c *Codec) PackItem(v any, def definition.Definition) (any, error) {
	return c.packItem(v, def, def.Flags(), nil)
}

// UnpackItem unpacks one value described by def
func (c *Codec) UnpackItem(v any, def definition.Definition) (any, error) {
	return c.unpackItem(v, def, def.Flags(), nil)
}

// PackRetval packs a return value. A nil definition means void.
func (c *Codec) PackRetval(v any, def definition.Definition) (any, error) {
	if def == nil {
		return nil, nil
	}
	return c.packItem(v, def, def.Flags(), []string{definition.ReturnMarker})
}

// UnpackRetval unpacks a return value. Plain scalar results come back bare.
func (c *Codec) UnpackRetval(v any, def definition.Definition) (any, error) {
	if def == nil {
		return nil, nil
	}
	return c.unpackItem(v, def, def.Flags(), []string{definition.ReturnMarker})
}

func (c *Codec) packItem(v any, def definition.Definition, flags definition.Flags, path []string) (any, error) {
	if def.Group() == definition.GroupVoid {
		return nil, nil
	}
	if len(flags) == 0 {
		return c.packLeaf(v, def, path)
	}

	if flags[0] == definition.FlagPointer {
		if native.IsNull(v) {
			return nil, nil
		}
		return c.packItem(native.Deref(v), def, flags[1:], path)
	}

	list, ok := native.Deref(v).([]any)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), flags.Apply(def.BaseType()).String())
	}
	if len(list) > flags[0] {
		return nil, errors.Flag(errors.PhaseCodec, path, flags[0], fmt.Sprintf("array of %d elements holds %d values", flags[0], len(list)))
	}
	out := make([]any, len(list))
	for i, e := range list {
		p, err := c.packItem(e, def, flags[1:], append(path[:len(path):len(path)], strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (c *Codec) unpackItem(v any, def definition.Definition, flags definition.Flags, path []string) (any, error) {
	if def.Group() == definition.GroupVoid {
		return nil, nil
	}
	if len(flags) == 0 {
		return c.unpackLeaf(v, def, path)
	}

	if flags[0] == definition.FlagPointer {
		if v == nil {
			return nil, nil
		}
		inner, err := c.unpackItem(v, def, flags[1:], path)
		if err != nil {
			return nil, err
		}
		return native.Ref(inner), nil
	}

	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), flags.Apply(def.BaseType()).String())
	}
	if len(list) > flags[0] {
		return nil, errors.Flag(errors.PhaseCodec, path, flags[0], fmt.Sprintf("array of %d elements holds %d values", flags[0], len(list)))
	}
	out := make([]any, len(list))
	for i, e := range list {
		u, err := c.unpackItem(e, def, flags[1:], append(path[:len(path):len(path)], strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}

func (c *Codec) packLeaf(v any, def definition.Definition, path []string) (any, error) {
	switch d := def.(type) {
	case *definition.Simple:
		return packScalar(v, d.Scalar(), path)

	case *definition.Struct:
		if native.IsNull(v) {
			return nil, nil
		}
		st, ok := v.(*native.Struct)
		if !ok {
			return nil, errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), d.BaseType().String())
		}
		out := make([]any, len(d.Fields))
		for i, f := range d.Fields {
			fv, ok := st.Get(f.FieldName())
			if !ok {
				return nil, errors.FieldMissing(errors.PhaseCodec, path, f.FieldName())
			}
			p, err := c.packItem(fv, f, f.Flags(), append(path[:len(path):len(path)], f.FieldName()))
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil

	case *definition.Func:
		return c.packFunc(v, d, path)

	case *definition.Custom:
		if v == nil {
			return nil, nil
		}
		if d.Adapter != nil {
			var err error
			if v, err = d.Adapter.FromParam(v); err != nil {
				return nil, errors.New(errors.PhaseCodec, errors.KindTypeMismatch).
					Path(path...).
					NativeType(d.TypeName()).
					Cause(err).
					Detail("custom adapter").
					Build()
			}
		}
		a, ok := native.AddressOf(v)
		if !ok {
			return nil, errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), d.TypeName())
		}
		return uint64(a), nil
	}
	return nil, errors.Group(errors.PhaseCodec, path, string(def.Group()))
}

func (c *Codec) unpackLeaf(v any, def definition.Definition, path []string) (any, error) {
	switch d := def.(type) {
	case *definition.Simple:
		return unpackScalar(v, d.Scalar(), path)

	case *definition.Struct:
		if v == nil {
			return nil, nil
		}
		list, ok := v.([]any)
		if !ok {
			return nil, errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), d.BaseType().String())
		}
		if len(list) != len(d.Fields) {
			return nil, errors.New(errors.PhaseCodec, errors.KindFieldMissing).
				Path(path...).
				NativeType(d.BaseType().String()).
				Detail("%d values for %d fields", len(list), len(d.Fields)).
				Build()
		}
		st := &native.Struct{Fields: make([]native.Field, len(d.Fields))}
		for i, f := range d.Fields {
			u, err := c.unpackItem(list[i], f, f.Flags(), append(path[:len(path):len(path)], f.FieldName()))
			if err != nil {
				return nil, err
			}
			st.Fields[i] = native.Field{Name: f.FieldName(), Value: u}
		}
		return st, nil

	case *definition.Func:
		return c.unpackFunc(v, d, path)

	case *definition.Custom:
		if v == nil {
			return nil, nil
		}
		a, ok := native.AddressOf(v)
		if !ok {
			return nil, errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), d.TypeName())
		}
		if a == 0 {
			return nil, nil
		}
		return a, nil
	}
	return nil, errors.Group(errors.PhaseCodec, path, string(def.Group()))
}

func (c *Codec) packFunc(v any, def *definition.Func, path []string) (any, error) {
	if native.IsNull(v) {
		return nil, nil
	}
	var cb *native.Callback
	switch fn := v.(type) {
	case *native.Callback:
		cb = fn
	// a bare function has no identity and is registered on every call
	case native.Func:
		cb = native.NewCallback(fn)
	case func(context.Context, []any) (any, error):
		cb = native.NewCallback(fn)
	default:
		return nil, errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), def.TypeName())
	}
	if c.bridge == nil {
		return nil, errors.Unsupported(errors.PhaseCodec, "function pointers without a callback bridge")
	}
	name, err := c.bridge.Hold(cb, def)
	if err != nil {
		return nil, err
	}
	return name, nil
}

func (c *Codec) unpackFunc(v any, def *definition.Func, path []string) (any, error) {
	if v == nil {
		return nil, nil
	}
	name, ok := v.(string)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), def.TypeName())
	}
	if c.bridge == nil {
		return nil, errors.Unsupported(errors.PhaseCodec, "function pointers without a callback bridge")
	}
	return c.bridge.Stub(name, def)
}

func packScalar(v any, s *ctype.Scalar, path []string) (any, error) {
	u, err := unpackScalar(v, s, path)
	if err != nil {
		return nil, err
	}
	if a, ok := u.(native.Address); ok {
		return uint64(a), nil
	}
	return u, nil
}

// unpackScalar normalizes v to the Go type used for the scalar's class
func unpackScalar(v any, s *ctype.Scalar, path []string) (any, error) {
	mismatch := func() error {
		return errors.TypeMismatch(errors.PhaseCodec, path, fmt.Sprintf("%T", v), s.Name())
	}

	switch s.Class() {
	case ctype.ClassBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		n, ok := native.Int64(v)
		if !ok {
			return nil, mismatch()
		}
		return n != 0, nil

	case ctype.ClassSigned:
		n, ok := native.Int64(v)
		if !ok {
			return nil, mismatch()
		}
		return n, nil

	case ctype.ClassUnsigned:
		n, ok := native.Uint64(v)
		if !ok {
			return nil, mismatch()
		}
		return n, nil

	case ctype.ClassFloat:
		f, ok := native.Float64(v)
		if !ok {
			return nil, mismatch()
		}
		return f, nil

	case ctype.ClassChar:
		if str, ok := v.(string); ok {
			if len(str) != 1 {
				return nil, mismatch()
			}
			return str[0], nil
		}
		n, ok := native.Int64(v)
		if !ok {
			return nil, mismatch()
		}
		return byte(n), nil

	case ctype.ClassWChar:
		if str, ok := v.(string); ok {
			r := []rune(str)
			if len(r) != 1 {
				return nil, mismatch()
			}
			return r[0], nil
		}
		n, ok := native.Int64(v)
		if !ok {
			return nil, mismatch()
		}
		return rune(n), nil

	case ctype.ClassString, ctype.ClassWString:
		switch x := v.(type) {
		case nil:
			return nil, nil
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		return nil, mismatch()

	case ctype.ClassAddress:
		a, ok := native.AddressOf(v)
		if !ok {
			return nil, mismatch()
		}
		if a == 0 {
			return nil, nil
		}
		return a, nil
	}
	return nil, mismatch()
}

// packPlain packs a value no definition describes
func packPlain(v any, path []string) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, []byte, float32, float64,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return v, nil
	case native.Address:
		return uint64(x), nil
	case *native.Cell:
		if x == nil {
			return nil, nil
		}
		return packPlain(x.Value, path)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			p, err := packPlain(e, append(path[:len(path):len(path)], strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	}
	return nil, errors.New(errors.PhaseCodec, errors.KindTypeMismatch).
		Path(path...).
		GoType(fmt.Sprintf("%T", v)).
		Detail("value without a declared type").
		Build()
}
