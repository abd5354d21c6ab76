package ctype

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a native type
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindPointer
	KindArray
	KindStruct
	KindFunc
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindFunc:
		return "func"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Type is a native type descriptor.
// A nil Type in a result position means void.
type Type interface {
	Kind() Kind
	String() string
}

// Pointer is a pointer to Elem
type Pointer struct {
	Elem Type
}

func (p *Pointer) Kind() Kind     { return KindPointer }
func (p *Pointer) String() string { return "*" + typeString(p.Elem) }

// PointerTo returns a pointer type to t
func PointerTo(t Type) *Pointer {
	return &Pointer{Elem: t}
}

// Array is a fixed-length array of Elem
type Array struct {
	Elem Type
	Len  int
}

func (a *Array) Kind() Kind     { return KindArray }
func (a *Array) String() string { return fmt.Sprintf("[%d]%s", a.Len, typeString(a.Elem)) }

// ArrayOf returns an array type of n elements of t
func ArrayOf(t Type, n int) *Array {
	return &Array{Elem: t, Len: n}
}

// Field is a named struct member
type Field struct {
	Name string
	Type Type
}

// Struct is a C struct. Field order defines memory layout.
type Struct struct {
	Name   string
	Fields []Field
}

func (s *Struct) Kind() Kind { return KindStruct }

func (s *Struct) String() string {
	if s.Name != "" {
		return s.Name
	}
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Name + " " + typeString(f.Type)
	}
	return "struct{" + strings.Join(parts, "; ") + "}"
}

// NewStruct creates a struct type
func NewStruct(name string, fields ...Field) *Struct {
	return &Struct{Name: name, Fields: fields}
}

// Field returns the field with the given name
func (s *Struct) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Func is a function pointer type.
// Memsync declares pointer arguments of the function whose pointees must be
// synchronized when the function is invoked across the boundary.
type Func struct {
	Name       string
	Args       []Type
	Result     Type
	Convention Convention
	Memsync    []Memsync
}

func (f *Func) Kind() Kind { return KindFunc }

func (f *Func) String() string {
	if f.Name != "" {
		return f.Name
	}
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = typeString(a)
	}
	s := "func(" + strings.Join(args, ", ") + ")"
	if f.Result != nil {
		s += " " + typeString(f.Result)
	}
	return s
}

// NewFunc creates a function pointer type with the cdecl convention
func NewFunc(result Type, args ...Type) *Func {
	return &Func{Args: args, Result: result, Convention: Cdecl}
}

// Adapter converts a caller-side value into a pointer-sized native value
type Adapter interface {
	FromParam(v any) (any, error)
}

// AdapterFunc adapts a plain function to Adapter
type AdapterFunc func(v any) (any, error)

func (f AdapterFunc) FromParam(v any) (any, error) { return f(v) }

// Custom is an opaque type whose values are converted by an adapter and
// travel as a pointer-sized slot.
type Custom struct {
	Name    string
	Adapter Adapter
}

func (c *Custom) Kind() Kind     { return KindCustom }
func (c *Custom) String() string { return c.Name }

func typeString(t Type) string {
	if t == nil {
		return "void"
	}
	return t.String()
}

// Convention is a calling convention
type Convention uint8

const (
	Cdecl Convention = iota
	Stdcall
)

func (c Convention) String() string {
	if c == Stdcall {
		return "stdcall"
	}
	return "cdecl"
}

// ParseConvention parses a calling convention name
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "cdecl", "":
		return Cdecl, nil
	case "stdcall":
		return Stdcall, nil
	}
	return Cdecl, fmt.Errorf("unknown calling convention %q", s)
}

// LibraryKind selects how a library's routines are called
type LibraryKind string

const (
	CDLL   LibraryKind = "cdll"
	WinDLL LibraryKind = "windll"
	OleDLL LibraryKind = "oledll"
)

// Convention returns the calling convention of the library kind
func (k LibraryKind) Convention() Convention {
	if k == CDLL {
		return Cdecl
	}
	return Stdcall
}

// Variadic reports whether callers may pass more arguments than declared
func (k LibraryKind) Variadic() bool {
	return k == CDLL
}

// Valid reports whether k is a known library kind
func (k LibraryKind) Valid() bool {
	switch k {
	case CDLL, WinDLL, OleDLL:
		return true
	}
	return false
}
