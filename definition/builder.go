package definition

import (
	"fmt"

	"github.com/wippyai/drawbridge/cache"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
)

// Builder turns native types into definitions and back. Struct and function
// types are registered in the session cache under their structural hash.
type Builder struct {
	cache *cache.Cache
	abi   ctype.ABI
}

// NewBuilder creates a builder that canonicalizes scalars under abi
func NewBuilder(c *cache.Cache, abi ctype.ABI) *Builder {
	return &Builder{cache: c, abi: abi}
}

// Cache returns the registry the builder stores types in
func (b *Builder) Cache() *cache.Cache {
	return b.cache
}

// FromNative builds the definition of t
func (b *Builder) FromNative(t ctype.Type) (Definition, error) {
	return b.fromNative(t, "", nil)
}

// FromNatives builds definitions for a list of argument types
func (b *Builder) FromNatives(ts []ctype.Type) ([]Definition, error) {
	out := make([]Definition, len(ts))
	for i, t := range ts {
		d, err := b.fromNative(t, "", []string{fmt.Sprint(i)})
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// Routine builds the definition of a routine's signature. Memsync
// declarations are compiled against it.
func (b *Builder) Routine(args []ctype.Type, result ctype.Type, conv ctype.Convention, memsync []ctype.Memsync) (*Func, error) {
	d, err := b.FromNative(&ctype.Func{Args: args, Result: result, Convention: conv, Memsync: memsync})
	if err != nil {
		return nil, err
	}
	return d.(*Func), nil
}

func (b *Builder) fromNative(t ctype.Type, field string, path []string) (Definition, error) {
	var flags Flags
unwrap:
	for {
		switch v := t.(type) {
		case *ctype.Pointer:
			flags = append(flags, FlagPointer)
			t = v.Elem
		case *ctype.Array:
			if v.Len <= 0 {
				return nil, errors.Flag(errors.PhaseDefinition, path, v.Len, "array length must be positive")
			}
			flags = append(flags, v.Len)
			t = v.Elem
		default:
			break unwrap
		}
	}

	switch v := t.(type) {
	case *ctype.Scalar:
		s := b.abi.Canonical(v)
		return &Simple{base: newBase(s, s.Name(), field, flags)}, nil

	case *ctype.Struct:
		return b.structFromNative(v, field, flags, path)

	case *ctype.Func:
		return b.funcFromNative(v, field, flags, path)

	case *ctype.Custom:
		if len(flags) > 0 {
			return nil, errors.Flag(errors.PhaseDefinition, path, flags[0], "custom types cannot carry pointer or array flags")
		}
		return &Custom{base: newBase(v, v.Name, field, nil), Adapter: v.Adapter}, nil

	case nil:
		return nil, errors.New(errors.PhaseDefinition, errors.KindType).
			Path(path...).
			Detail("missing type").
			Build()
	}
	return nil, errors.New(errors.PhaseDefinition, errors.KindType).
		Path(path...).
		GoType(fmt.Sprintf("%T", t)).
		Detail("unsupported native type").
		Build()
}

func (b *Builder) structFromNative(s *ctype.Struct, field string, flags Flags, path []string) (Definition, error) {
	fields := make([]Definition, len(s.Fields))
	for i, f := range s.Fields {
		d, err := b.fromNative(f.Type, f.Name, append(path[:len(path):len(path)], f.Name))
		if err != nil {
			return nil, err
		}
		fields[i] = d
	}
	return b.newStruct(s.Name, fields, field, flags), nil
}

// newStruct registers a struct type under the structural hash of its
// fields. A native type is only built when the cache has none yet.
func (b *Builder) newStruct(name string, fields []Definition, field string, flags Flags) *Struct {
	hash := structHash(fields)
	registered, ok := b.cache.Struct(hash)
	if ok {
		b.cache.NameStruct(name, hash)
	} else {
		native := &ctype.Struct{Name: name, Fields: make([]ctype.Field, len(fields))}
		for i, f := range fields {
			native.Fields[i] = ctype.Field{Name: f.FieldName(), Type: f.Type()}
		}
		registered = b.cache.LoadOrStoreStruct(hash, native)
	}
	return &Struct{
		base:   newBase(registered, structTypeName(hash), field, flags),
		Fields: fields,
		Hash:   hash,
	}
}

// rehash rebuilds a struct whose fields were replaced
func (b *Builder) rehash(st *Struct) *Struct {
	name := ""
	if s, ok := st.BaseType().(*ctype.Struct); ok {
		name = s.Name
	}
	return b.newStruct(name, st.Fields, st.FieldName(), st.Flags())
}

func (b *Builder) funcFromNative(f *ctype.Func, field string, flags Flags, path []string) (Definition, error) {
	args, err := b.FromNatives(f.Args)
	if err != nil {
		return nil, err
	}
	var result Definition
	if f.Result != nil {
		if result, err = b.fromNative(f.Result, "", append(path[:len(path):len(path)], "r")); err != nil {
			return nil, err
		}
	}
	memsyncs, result, err := b.CompileMemsync(f.Memsync, args, result)
	if err != nil {
		return nil, err
	}
	return b.newFunc(f.Name, args, result, memsyncs, f.Convention, f.Memsync, field, flags), nil
}

func (b *Builder) newFunc(name string, args []Definition, result Definition, memsyncs []*Memsync, conv ctype.Convention, raw []ctype.Memsync, field string, flags Flags) *Func {
	hash := funcHash(conv, args, result, memsyncs)
	native := &ctype.Func{Name: name, Args: make([]ctype.Type, len(args)), Convention: conv, Memsync: raw}
	for i, a := range args {
		native.Args[i] = a.Type()
	}
	if result != nil {
		native.Result = result.Type()
	}
	registered := b.cache.LoadOrStoreFunc(conv, hash, native)
	return &Func{
		base:       newBase(registered, funcTypeName(hash), field, flags),
		Result:     result,
		Args:       args,
		Memsyncs:   memsyncs,
		Hash:       hash,
		Convention: conv,
	}
}

// FromWire rebuilds a definition received from the peer
func (b *Builder) FromWire(w *Wire) (Definition, error) {
	return b.fromWire(w, nil)
}

// FromWires rebuilds a list of definitions
func (b *Builder) FromWires(ws []*Wire) ([]Definition, error) {
	out := make([]Definition, len(ws))
	for i, w := range ws {
		d, err := b.fromWire(w, []string{fmt.Sprint(i)})
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (b *Builder) fromWire(w *Wire, path []string) (Definition, error) {
	if w == nil {
		return nil, nil
	}
	flags := Flags(w.Flags)
	if err := flags.validate(path); err != nil {
		return nil, err
	}

	switch w.Group {
	case GroupSimple:
		s, ok := ctype.ScalarByName(w.Type)
		if !ok {
			return nil, errors.New(errors.PhaseDefinition, errors.KindType).
				Path(path...).
				NativeType(w.Type).
				Detail("unknown scalar type").
				Build()
		}
		return &Simple{base: newBase(s, s.Name(), w.Field, flags)}, nil

	case GroupStruct:
		fields := make([]Definition, len(w.Fields))
		for i, fw := range w.Fields {
			d, err := b.fromWire(fw, append(path[:len(path):len(path)], fw.Field))
			if err != nil {
				return nil, err
			}
			fields[i] = d
		}
		if hash := structHash(fields); w.Hash != 0 && hash != w.Hash {
			return nil, errors.New(errors.PhaseDefinition, errors.KindType).
				Path(path...).
				Detail("struct hash %x does not match its fields (%x)", w.Hash, hash).
				Build()
		}
		return b.newStruct("", fields, w.Field, flags), nil

	case GroupFunc:
		args, err := b.FromWires(w.Args)
		if err != nil {
			return nil, err
		}
		result, err := b.fromWire(w.Result, append(path[:len(path):len(path)], "r"))
		if err != nil {
			return nil, err
		}
		memsyncs, err := b.MemsyncsFromWire(w.Memsyncs)
		if err != nil {
			return nil, err
		}
		return b.newFunc("", args, result, memsyncs, w.Conv, nil, w.Field, flags), nil

	case GroupCustom:
		if len(flags) > 0 {
			return nil, errors.Flag(errors.PhaseDefinition, path, flags[0], "custom types cannot carry pointer or array flags")
		}
		c := &ctype.Custom{Name: w.Type}
		return &Custom{base: newBase(c, c.Name, w.Field, nil)}, nil

	case GroupVoid:
		return NewVoid(w.Field), nil
	}
	return nil, errors.Group(errors.PhaseDefinition, path, string(w.Group))
}
