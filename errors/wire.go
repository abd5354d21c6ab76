package errors

import "fmt"

// Wire is the shipped form of an error. Remote errors are rebuilt on the
// receiving side with the same phase, kind and Go type.
type Wire struct {
	Phase      Phase    `msgpack:"phase"`
	Kind       Kind     `msgpack:"kind"`
	Detail     string   `msgpack:"detail,omitempty"`
	GoType     string   `msgpack:"go_type,omitempty"`
	NativeType string   `msgpack:"native_type,omitempty"`
	Cause      string   `msgpack:"cause,omitempty"`
	Path       []string `msgpack:"path,omitempty"`
}

// ToWire converts err for shipping. Errors that are not structured travel as
// foreign call errors.
func ToWire(err error) *Wire {
	if err == nil {
		return nil
	}
	e := Foreign(err)
	w := &Wire{
		Phase:      e.Phase,
		Kind:       e.Kind,
		Detail:     e.Detail,
		GoType:     e.GoType,
		NativeType: e.NativeType,
		Path:       e.Path,
	}
	if e.Cause != nil && e.Cause.Error() != e.Detail {
		w.Cause = e.Cause.Error()
	}
	if w.GoType == "" && e.Value != nil {
		w.GoType = fmt.Sprintf("%T", e.Value)
	}
	return w
}

// Err rebuilds the error
func (w *Wire) Err() *Error {
	e := &Error{
		Phase:      w.Phase,
		Kind:       w.Kind,
		Detail:     w.Detail,
		GoType:     w.GoType,
		NativeType: w.NativeType,
		Path:       w.Path,
	}
	if w.Cause != "" {
		e.Cause = remoteCause(w.Cause)
	}
	return e
}

type remoteCause string

func (c remoteCause) Error() string { return string(c) }
