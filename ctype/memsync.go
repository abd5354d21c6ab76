package ctype

// Memsync declares a pointer whose pointee must be copied across the
// boundary before a call and back after it.
//
// Paths start with an argument index or "r" for the return value, followed by
// struct field names or array element indices. A trailing -1 marks a pointer to
// a pointer that the callee may fill in with memory of its own.
//
// The length in elements comes from exactly one of Length (a path to an
// integer), Lengths combined by the named Func, or Null (terminator scan).
type Memsync struct {
	Pointer []any
	Length  []any
	Lengths [][]any
	Func    string
	// Elem is the element type. When nil, ElemName is resolved as a scalar
	// name or a struct registered in the session cache; both empty means UByte.
	Elem     Type
	ElemName string
	Null     bool
	Unicode  bool
	Custom   Adapter
}
