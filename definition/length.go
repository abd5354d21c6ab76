package definition

import "sync"

// LengthFunc combines several length values into one element count
type LengthFunc func(values ...int64) int64

var (
	lengthFuncs = map[string]LengthFunc{
		"product": func(values ...int64) int64 {
			n := int64(1)
			for _, v := range values {
				n *= v
			}
			return n
		},
		"sum": func(values ...int64) int64 {
			var n int64
			for _, v := range values {
				n += v
			}
			return n
		},
		"max": func(values ...int64) int64 {
			var n int64
			for i, v := range values {
				if i == 0 || v > n {
					n = v
				}
			}
			return n
		},
		"min": func(values ...int64) int64 {
			var n int64
			for i, v := range values {
				if i == 0 || v < n {
					n = v
				}
			}
			return n
		},
	}
	lengthFuncsMu sync.RWMutex
)

// RegisterLengthFunc makes fn available to memsync declarations under name.
// Both sides of a bridge must register the same functions.
func RegisterLengthFunc(name string, fn LengthFunc) {
	lengthFuncsMu.Lock()
	lengthFuncs[name] = fn
	lengthFuncsMu.Unlock()
}

// LookupLengthFunc returns the length function registered under name
func LookupLengthFunc(name string) (LengthFunc, bool) {
	lengthFuncsMu.RLock()
	defer lengthFuncsMu.RUnlock()
	fn, ok := lengthFuncs[name]
	return fn, ok
}
