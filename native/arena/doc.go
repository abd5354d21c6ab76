// Package arena provides an in-process native backend.
//
// An Arena is a simulated address space with block-granular bounds checks.
// A Loader serves Modules of Go procedures as foreign libraries: each
// procedure receives native values whose pointers refer into the Loader's
// Arena, exactly as a routine in a real shared library would see them.
//
//	mod := arena.NewModule("demo").
//		Define("divide", func(ctx context.Context, c *arena.Call) (any, error) {
//			a, b := c.Int(0), c.Int(1)
//			c.Cell(2).Value = a % b
//			return a / b, nil
//		})
//	loader := arena.NewLoader(ctype.HostABI(), mod)
package arena
