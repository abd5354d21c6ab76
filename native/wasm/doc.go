// Package wasm is a native backend whose foreign libraries are wasm32
// modules run by wazero.
//
// Each loaded library is a fresh module instance; its linear memory, paired
// with the module's exported malloc/free (or cabi_realloc), is the library's
// address space. Pointer arguments are materialized in guest memory before a
// call and read back afterwards. Structs passed by value travel as a hidden
// pointer, as the wasm32 C ABI does.
//
// Signatures come from SetTypes, from WIT text supplied with the module, or
// from the core wasm value types, in that order of preference.
//
// Function pointer arguments are not supported: a guest cannot call back into
// the host through a table slot it does not own.
package wasm
