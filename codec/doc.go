// Package codec converts argument and return values between their native
// form and the plain values that travel between the two sides of a bridge,
// and runs both halves of a forwarded call.
//
// Packing follows a value's definition. Pointer levels are dereferenced,
// arrays are packed one dimension at a time and structs field by field in
// declaration order. Memsync-owned slots pack as nil because their bytes
// travel as memory packages. Function pointers are handed to a Bridge and
// only their name is sent. Unpacking rebuilds the same shape with a
// *native.Cell per pointer level, so by-reference arguments written by the
// callee can be synchronized back into the caller's own objects.
//
// Call is the caller half of the protocol and Serve the callee half. Serve
// never fails: errors raised by the routine travel inside the Envelope and
// Call re-raises them after arguments and memory were synchronized.
package codec
