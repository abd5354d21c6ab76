package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDefinition Phase = "definition" // building or reconstructing definitions
	PhaseMemsync    Phase = "memsync"    // memsync compile and transfer
	PhaseCodec      Phase = "codec"      // packing and unpacking values
	PhaseCall       Phase = "call"       // the foreign routine itself
	PhaseTransport  Phase = "transport"  // rpc connections and framing
	PhaseSession    Phase = "session"    // session bring-up and tear-down
	PhaseLoad       Phase = "load"       // library loading and symbol lookup
	PhaseConfig     Phase = "config"     // configuration files and parameters
	PhaseMemory     Phase = "memory"     // address space access
)

// Kind categorizes the error
type Kind string

const (
	KindFlag         Kind = "flag"
	KindType         Kind = "type"
	KindGroup        Kind = "group"
	KindPath         Kind = "path"
	KindArgCount     Kind = "arg_count"
	KindTypeMismatch Kind = "type_mismatch"
	KindFieldMissing Kind = "field_missing"
	KindOutOfBounds  Kind = "out_of_bounds"
	KindAllocation   Kind = "allocation"
	KindNilPointer   Kind = "nil_pointer"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindUnsupported  Kind = "unsupported"
	KindForeign      Kind = "foreign"
	KindHResult      Kind = "hresult"
	KindTimeout      Kind = "timeout"
	KindClosed       Kind = "closed"
	KindProtocol     Kind = "protocol"
	KindRemote       Kind = "remote"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value      any
	Cause      error
	Phase      Phase
	Kind       Kind
	GoType     string
	NativeType string
	Detail     string
	Path       []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.NativeType != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.NativeType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", native type ")
			b.WriteString(e.NativeType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("native type ")
			b.WriteString(e.NativeType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.NativeType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// An empty Phase or Kind on the target matches any value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the value path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// NativeType sets the native type name
func (b *Builder) NativeType(t string) *Builder {
	b.err.NativeType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, nativeType string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindTypeMismatch,
		Path:       path,
		GoType:     goType,
		NativeType: nativeType,
	}
}

// Flag creates an error for a malformed pointer/array flag sequence
func Flag(phase Phase, path []string, flag int, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFlag,
		Path:   path,
		Value:  flag,
		Detail: detail,
	}
}

// Group creates an error for an unknown definition group
func Group(phase Phase, path []string, group string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindGroup,
		Path:   path,
		Detail: fmt.Sprintf("unknown group %q", group),
	}
}

// BadPath creates a memsync path error
func BadPath(path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseMemsync,
		Kind:   KindPath,
		Path:   path,
		Detail: detail,
	}
}

// ArgCount creates an argument count error
func ArgCount(phase Phase, got, want int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindArgCount,
		Value:  got,
		Detail: fmt.Sprintf("%d arguments given, %d expected", got, want),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// FieldMissing creates a missing field error
func FieldMissing(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldMissing,
		Path:   path,
		Detail: fmt.Sprintf("required field %q not found", fieldName),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error for an address range
func OutOfBounds(phase Phase, addr uint64, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Value:  addr,
		Detail: fmt.Sprintf("range 0x%x+%d out of bounds", addr, length),
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, path []string, nativeType string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindNilPointer,
		Path:       path,
		NativeType: nativeType,
		Detail:     "nil pointer",
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Timeout creates a timeout error
func Timeout(phase Phase, what string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Detail: what,
		Cause:  cause,
	}
}

// Foreign wraps an error raised by a foreign routine or callback.
// Structured errors keep their phase and kind so the caller can match them.
func Foreign(cause error) *Error {
	var e *Error
	if As(cause, &e) {
		return e
	}
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindForeign,
		GoType: fmt.Sprintf("%T", cause),
		Detail: cause.Error(),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a library loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Detail: detail,
		Cause:  cause,
	}
}
