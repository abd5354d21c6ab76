// Package errors provides structured error types for drawbridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries a value path, Go and native type names and
// a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCodec, errors.KindTypeMismatch).
//		Path("arg1", "width").
//		GoType("string").
//		NativeType("int32").
//		Detail("cannot convert string to integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ArgCount(errors.PhaseCodec, 2, 3)
//	err := errors.BadPath([]string{"0", "data"}, "field not found")
//
// Errors cross the process boundary as values: the receiving side rebuilds an
// Error with the same Phase, Kind and GoType, so errors.Is keeps matching.
package errors
