// Package ctype describes native C types: scalars, pointers, fixed-length
// arrays, structs, function pointers and custom adapter types.
//
// Platform-variable scalars (int, long, size_t, wchar, pointers) carry no
// fixed size; an ABI resolves them. ABI.Canonical maps the integer ones to a
// fixed-width name so both sides of the bridge agree on their meaning.
package ctype
