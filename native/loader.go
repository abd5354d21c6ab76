package native

import (
	"context"

	"github.com/wippyai/drawbridge"
	"github.com/wippyai/drawbridge/ctype"
)

// Loader opens foreign libraries by name
type Loader interface {
	Load(ctx context.Context, name string, kind ctype.LibraryKind) (Library, error)
}

// Library is a loaded foreign library living in one address space
type Library interface {
	Name() string
	ABI() ctype.ABI
	Space() drawbridge.Space
	// Symbol resolves a routine by name. Numeric names resolve by ordinal.
	Symbol(ctx context.Context, name string) (Symbol, error)
	Close(ctx context.Context) error
}

// Symbol is a callable routine of a Library.
// Arguments are native values already materialized in the library's Space:
// memsync-owned pointers arrive as Address, by-reference values as Cells.
type Symbol interface {
	Name() string
	SetTypes(args []ctype.Type, result ctype.Type) error
	Call(ctx context.Context, args []any) (any, error)
}

// Describer is implemented by symbols that know their own signature
type Describer interface {
	Signature() (args []ctype.Type, result ctype.Type, ok bool)
}

// Enumerator is implemented by libraries that can list their routines.
// Names are in ordinal order.
type Enumerator interface {
	Exports() []string
}
