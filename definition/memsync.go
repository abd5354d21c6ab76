package definition

import (
	"fmt"
	"strings"

	"github.com/wippyai/drawbridge"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/layout"
)

// Memsync is a compiled memsync declaration: which pointer to synchronize
// and how to find the length of its pointee.
type Memsync struct {
	Custom  ctype.Adapter
	Elem    Definition
	Func    LengthFunc
	Pointer Path
	Length  Path
	Lengths []Path
	// FuncName is the registered name of Func
	FuncName string
	Null     bool
	Unicode  bool
}

// Side is the address space and data model memsync steps operate in
type Side struct {
	Space drawbridge.Space
	Calc  *layout.Calculator
}

// NewSide creates a Side for space under abi
func NewSide(space drawbridge.Space, abi ctype.ABI) *Side {
	return &Side{Space: space, Calc: layout.NewCalculator(abi)}
}

// ABI returns the side's data model
func (s *Side) ABI() ctype.ABI {
	return s.Calc.ABI()
}

func (m *Memsync) String() string {
	return fmt.Sprintf("<Memsync pointer=%s type=%s null=%v unic=%v func=%v>", m.Pointer, m.Elem.TypeName(), m.Null, m.Unicode, m.FuncName != "")
}

// ElemSize returns the element size in bytes on side
func (m *Memsync) ElemSize(side *Side) uint32 {
	return side.Calc.SizeOf(m.Elem.Type())
}

func (m *Memsync) canonical() string {
	var b strings.Builder
	b.WriteString(m.Pointer.String())
	b.WriteByte('/')
	if m.Length != nil {
		b.WriteString(m.Length.String())
	}
	for _, l := range m.Lengths {
		b.WriteString(l.String())
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, "/%s/%s/%t/%t", m.FuncName, m.Elem.canonical(), m.Null, m.Unicode)
	return b.String()
}

func (m *Memsync) Wire() *MemsyncWire {
	w := &MemsyncWire{
		Pointer: m.Pointer.Raw(),
		Func:    m.FuncName,
		Elem:    m.Elem.Wire(),
		Null:    m.Null,
		Unicode: m.Unicode,
	}
	if m.Length != nil {
		w.Length = m.Length.Raw()
	}
	for _, l := range m.Lengths {
		w.Lengths = append(w.Lengths, l.Raw())
	}
	return w
}

// CompileMemsync compiles raw declarations against the definitions of a
// routine or function type. Every targeted definition is replaced by a Void
// definition; args is modified in place and the possibly replaced result is
// returned.
func (b *Builder) CompileMemsync(raw []ctype.Memsync, args []Definition, result Definition) ([]*Memsync, Definition, error) {
	out := make([]*Memsync, 0, len(raw))
	for i := range raw {
		m, err := b.compileMemsync(&raw[i])
		if err != nil {
			return nil, nil, err
		}
		result, err = m.apply(b, args, result)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, m)
	}
	return out, result, nil
}

func (b *Builder) compileMemsync(raw *ctype.Memsync) (*Memsync, error) {
	m := &Memsync{Null: raw.Null, Unicode: raw.Unicode, Custom: raw.Custom, FuncName: raw.Func}

	var err error
	if m.Pointer, err = ParsePath(raw.Pointer); err != nil {
		return nil, err
	}

	switch {
	case raw.Null:
	case raw.Func != "":
		fn, ok := LookupLengthFunc(raw.Func)
		if !ok {
			return nil, errors.BadPath(m.Pointer.strings(), fmt.Sprintf("unknown length function %q", raw.Func))
		}
		m.Func = fn
		if len(raw.Lengths) == 0 {
			return nil, errors.BadPath(m.Pointer.strings(), "length function without length paths")
		}
		for _, lp := range raw.Lengths {
			p, err := ParsePath(lp)
			if err != nil {
				return nil, err
			}
			m.Lengths = append(m.Lengths, p)
		}
	case len(raw.Length) > 0:
		if m.Length, err = ParsePath(raw.Length); err != nil {
			return nil, err
		}
	default:
		return nil, errors.BadPath(m.Pointer.strings(), "no length, length function or null termination given")
	}

	if m.Elem, err = b.memsyncElem(raw); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *Builder) memsyncElem(raw *ctype.Memsync) (Definition, error) {
	switch {
	case raw.Elem != nil:
		return b.FromNative(raw.Elem)
	case raw.ElemName != "":
		if s, ok := ctype.ScalarByName(raw.ElemName); ok {
			return b.FromNative(s)
		}
		if s, ok := b.cache.StructByName(raw.ElemName); ok {
			return b.FromNative(s)
		}
		return nil, errors.New(errors.PhaseMemsync, errors.KindType).
			Detail("unknown element type %q", raw.ElemName).
			Build()
	case raw.Unicode:
		return b.FromNative(ctype.WChar)
	}
	return b.FromNative(ctype.UByte)
}

// apply replaces the definition the memsync targets with a Void definition.
// Structs on the way to a replaced field are rebuilt, since a void field
// gives them a different layout and hash.
func (m *Memsync) apply(b *Builder, args []Definition, result Definition) (Definition, error) {
	short := m.Pointer.Short()
	head := short[0]

	var target Definition
	switch head.Kind {
	case SegArg:
		if head.Index >= len(args) {
			return nil, errors.BadPath(m.Pointer.strings(), fmt.Sprintf("argument %d of %d", head.Index, len(args)))
		}
		if len(short) == 1 {
			args[head.Index] = NewVoid(args[head.Index].FieldName())
			return result, nil
		}
		target = args[head.Index]
	case SegReturn:
		if len(short) == 1 {
			return NewVoid(""), nil
		}
		target = result
	}

	chain := make([]*Struct, 0, len(short)-1)
	for i, seg := range short[1:] {
		st, ok := target.(*Struct)
		if !ok {
			return nil, errors.BadPath(short[:i+1].strings(), fmt.Sprintf("%v is not a struct", target))
		}
		chain = append(chain, st)
		if i == len(short)-2 {
			if !st.SetField(seg.Name, NewVoid(seg.Name)) {
				return nil, errors.BadPath(short[:i+2].strings(), "no field "+seg.Name)
			}
			break
		}
		if target, ok = st.Field(seg.Name); !ok {
			return nil, errors.BadPath(short[:i+2].strings(), "no field "+seg.Name)
		}
	}

	var rebuilt *Struct
	for i := len(chain) - 1; i >= 0; i-- {
		if rebuilt != nil {
			chain[i].SetField(short[i+1].Name, rebuilt)
		}
		rebuilt = b.rehash(chain[i])
	}
	if head.Kind == SegArg {
		args[head.Index] = rebuilt
		return result, nil
	}
	return rebuilt, nil
}

// MemsyncFromWire rebuilds a memsync received from the peer
func (b *Builder) MemsyncFromWire(w *MemsyncWire) (*Memsync, error) {
	m := &Memsync{Null: w.Null, Unicode: w.Unicode, FuncName: w.Func}
	var err error
	if m.Pointer, err = ParsePath(w.Pointer); err != nil {
		return nil, err
	}
	if len(w.Length) > 0 {
		if m.Length, err = ParsePath(w.Length); err != nil {
			return nil, err
		}
	}
	for _, lp := range w.Lengths {
		p, err := ParsePath(lp)
		if err != nil {
			return nil, err
		}
		m.Lengths = append(m.Lengths, p)
	}
	if w.Func != "" {
		fn, ok := LookupLengthFunc(w.Func)
		if !ok {
			return nil, errors.BadPath(m.Pointer.strings(), fmt.Sprintf("unknown length function %q", w.Func))
		}
		m.Func = fn
	}
	if w.Elem == nil {
		m.Elem, err = b.FromNative(ctype.UByte)
	} else {
		m.Elem, err = b.FromWire(w.Elem)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MemsyncsFromWire rebuilds a list of memsyncs
func (b *Builder) MemsyncsFromWire(ws []*MemsyncWire) ([]*Memsync, error) {
	out := make([]*Memsync, len(ws))
	for i, w := range ws {
		m, err := b.MemsyncFromWire(w)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}
