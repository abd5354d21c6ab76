// Package native defines the values exchanged with foreign routines and the
// collaborator interfaces of the native backends.
//
// Values are plain Go data: numbers, strings, Address for raw pointers,
// *Cell for by-reference arguments, []any for arrays, *Struct for structs and
// *Callback for function pointers. Store and Load move these values in and
// out of a drawbridge.Space following the layout of a ctype.Type under the
// space's ABI.
//
// Loader, Library and Symbol are implemented by the backends in
// native/arena and native/wasm.
package native
