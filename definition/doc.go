// Package definition describes argument, return value and struct field types
// in a form both sides of a bridge can rebuild, and carries the memsync
// protocol that copies pointee memory across a call.
//
// A Builder converts native types into definitions. Pointer and array
// wrappers become flags, platform-variable integers are canonicalized to
// fixed widths, and struct and function types are identified by a
// structural hash so equivalent types declared independently on either side
// resolve to one cache entry:
//
//	b := definition.NewBuilder(cache.New(), ctype.LP64)
//	fn, err := b.Routine(
//		[]ctype.Type{ctype.PointerTo(ctype.Int16), ctype.Int},
//		nil, ctype.Cdecl,
//		[]ctype.Memsync{{Pointer: []any{0}, Length: []any{1}, Elem: ctype.Int16}},
//	)
//
// Definitions travel as Wire values and are rebuilt with FromWire.
package definition
