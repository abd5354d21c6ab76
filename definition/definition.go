package definition

import (
	"fmt"
	"strings"

	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
)

// Group names the variant of a Definition
type Group string

const (
	GroupSimple Group = "simple"
	GroupStruct Group = "struct"
	GroupFunc   Group = "func"
	GroupCustom Group = "custom"
	// GroupVoid marks a pointer slot owned by memsync
	GroupVoid Group = "void"
)

// FlagPointer marks one level of pointer indirection. Positive flags are
// array lengths.
const FlagPointer = -1

// Flags lists pointer and array wrappers, outermost first
type Flags []int

// IsPointer reports whether any flag is a pointer
func (f Flags) IsPointer() bool {
	for _, flag := range f {
		if flag == FlagPointer {
			return true
		}
	}
	return false
}

// ArrayDepth returns the number of array dimensions
func (f Flags) ArrayDepth() int {
	n := 0
	for _, flag := range f {
		if flag > 0 {
			n++
		}
	}
	return n
}

// IsScalar reports whether no array flag is present
func (f Flags) IsScalar() bool {
	return f.ArrayDepth() == 0
}

func (f Flags) validate(path []string) error {
	for _, flag := range f {
		if flag != FlagPointer && flag <= 0 {
			return errors.Flag(errors.PhaseDefinition, path, flag, "unknown non-pointer flag for array")
		}
	}
	return nil
}

// Apply wraps t in the pointer and array types the flags describe
func (f Flags) Apply(t ctype.Type) ctype.Type {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == FlagPointer {
			t = ctype.PointerTo(t)
		} else {
			t = ctype.ArrayOf(t, f[i])
		}
	}
	return t
}

func (f Flags) String() string {
	var b strings.Builder
	for _, flag := range f {
		if flag == FlagPointer {
			b.WriteByte('*')
		} else {
			fmt.Fprintf(&b, "[%d]", flag)
		}
	}
	return b.String()
}

// Definition describes an argument, return value or struct field in a form
// that can be shipped to the peer and rebuilt there. It is one of *Simple,
// *Struct, *Func, *Custom or *Void.
type Definition interface {
	Group() Group
	Flags() Flags
	// FieldName is the member name when the definition is a struct field
	FieldName() string
	// TypeName is the scalar name, structtype_<hash>, functype_<hash> or
	// the custom type's name
	TypeName() string
	// Type is the native type with flags applied
	Type() ctype.Type
	// BaseType is the native type without flags
	BaseType() ctype.Type
	Wire() *Wire

	canonical() string
	rename(field string) Definition
}

type base struct {
	typ      ctype.Type
	baseType ctype.Type
	field    string
	typeName string
	flags    Flags
}

func (b *base) Flags() Flags         { return b.flags }
func (b *base) FieldName() string    { return b.field }
func (b *base) TypeName() string     { return b.typeName }
func (b *base) Type() ctype.Type     { return b.typ }
func (b *base) BaseType() ctype.Type { return b.baseType }

func newBase(baseType ctype.Type, typeName, field string, flags Flags) base {
	return base{
		typ:      flags.Apply(baseType),
		baseType: baseType,
		field:    field,
		typeName: typeName,
		flags:    flags,
	}
}

// Simple is a scalar, possibly behind pointers or in arrays
type Simple struct {
	base
}

func (d *Simple) Group() Group { return GroupSimple }

// Scalar returns the canonical scalar type
func (d *Simple) Scalar() *ctype.Scalar {
	return d.baseType.(*ctype.Scalar)
}

func (d *Simple) String() string {
	return fmt.Sprintf("<Definition group=%s field=%s type=%s flags=%v>", GroupSimple, d.field, d.typeName, []int(d.flags))
}

func (d *Simple) rename(field string) Definition {
	c := *d
	c.field = field
	return &c
}

// Struct is a struct type with per-field definitions
type Struct struct {
	base
	Fields []Definition
	Hash   uint64
}

func (d *Struct) Group() Group { return GroupStruct }

// Field returns the definition of the named field
func (d *Struct) Field(name string) (Definition, bool) {
	for _, f := range d.Fields {
		if f.FieldName() == name {
			return f, true
		}
	}
	return nil, false
}

// SetField replaces the definition of the named field
func (d *Struct) SetField(name string, def Definition) bool {
	for i, f := range d.Fields {
		if f.FieldName() == name {
			d.Fields[i] = def.rename(name)
			return true
		}
	}
	return false
}

func (d *Struct) String() string {
	return fmt.Sprintf("<Definition group=%s field=%s type=%s flags=%v fields=%d>", GroupStruct, d.field, d.typeName, []int(d.flags), len(d.Fields))
}

func (d *Struct) rename(field string) Definition {
	c := *d
	c.field = field
	return &c
}

// Func is a function pointer type
type Func struct {
	base
	Result     Definition
	Args       []Definition
	Memsyncs   []*Memsync
	Hash       uint64
	Convention ctype.Convention
}

func (d *Func) Group() Group { return GroupFunc }

func (d *Func) String() string {
	return fmt.Sprintf("<Definition group=%s field=%s type=%s flags=%v args=%d>", GroupFunc, d.field, d.typeName, []int(d.flags), len(d.Args))
}

func (d *Func) rename(field string) Definition {
	c := *d
	c.field = field
	return &c
}

// Custom is an opaque type converted by an adapter on the side that
// declared it. Custom definitions never carry flags.
type Custom struct {
	base
	Adapter ctype.Adapter
}

func (d *Custom) Group() Group { return GroupCustom }

func (d *Custom) rename(field string) Definition {
	c := *d
	c.field = field
	return &c
}

// Void is a type-agnostic pointer slot whose pointee memsync transfers
type Void struct {
	base
}

// NewVoid returns a Void definition for the named field
func NewVoid(field string) *Void {
	return &Void{base: newBase(ctype.VoidP, ctype.VoidP.Name(), field, nil)}
}

func (d *Void) Group() Group { return GroupVoid }

func (d *Void) rename(field string) Definition {
	return NewVoid(field)
}
