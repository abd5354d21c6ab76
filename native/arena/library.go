package arena

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/wippyai/drawbridge"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/layout"
	"github.com/wippyai/drawbridge/native"
)

// Proc is a foreign routine implemented in Go
type Proc func(ctx context.Context, call *Call) (any, error)

// Module is a named set of procedures that a Loader serves as a library.
// Procedures are also reachable by ordinal in definition order, starting at 1.
type Module struct {
	procs    map[string]Proc
	name     string
	ordinals []string
}

func NewModule(name string) *Module {
	return &Module{name: name, procs: make(map[string]Proc)}
}

// Define adds a procedure and returns the module for chaining
func (m *Module) Define(name string, proc Proc) *Module {
	if _, exists := m.procs[name]; !exists {
		m.ordinals = append(m.ordinals, name)
	}
	m.procs[name] = proc
	return m
}

// Loader serves registered modules as libraries that share one Arena
type Loader struct {
	modules map[string]*Module
	space   *Arena
	calc    *layout.Calculator
	abi     ctype.ABI
	mu      sync.RWMutex
}

// NewLoader creates a loader whose libraries use the given data model
func NewLoader(abi ctype.ABI, modules ...*Module) *Loader {
	l := &Loader{
		modules: make(map[string]*Module),
		space:   New(DefaultBase),
		calc:    layout.NewCalculator(abi),
		abi:     abi,
	}
	for _, m := range modules {
		l.Register(m)
	}
	return l
}

// Register makes m loadable under its name
func (l *Loader) Register(m *Module) {
	l.mu.Lock()
	l.modules[m.name] = m
	l.mu.Unlock()
}

// Space returns the arena shared by all libraries of the loader
func (l *Loader) Space() *Arena {
	return l.space
}

func (l *Loader) Load(ctx context.Context, name string, kind ctype.LibraryKind) (native.Library, error) {
	l.mu.RLock()
	m, ok := l.modules[name]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.Load(fmt.Sprintf("library %q not registered", name), nil)
	}
	return &Library{module: m, loader: l, kind: kind}, nil
}

// Library is a loaded Module
type Library struct {
	module *Module
	loader *Loader
	kind   ctype.LibraryKind
}

func (lib *Library) Name() string            { return lib.module.name }
func (lib *Library) ABI() ctype.ABI          { return lib.loader.abi }
func (lib *Library) Space() drawbridge.Space { return lib.loader.space }

func (lib *Library) Symbol(ctx context.Context, name string) (native.Symbol, error) {
	procName := name
	if n, err := strconv.Atoi(name); err == nil {
		if n < 1 || n > len(lib.module.ordinals) {
			return nil, errors.NotFound(errors.PhaseLoad, "ordinal", name)
		}
		procName = lib.module.ordinals[n-1]
	}
	proc, ok := lib.module.procs[procName]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "routine", name)
	}
	return &Symbol{name: procName, proc: proc, lib: lib}, nil
}

func (lib *Library) Close(ctx context.Context) error { return nil }

// Exports lists the module's procedures in ordinal order
func (lib *Library) Exports() []string {
	return append([]string(nil), lib.module.ordinals...)
}

// Symbol is a resolved procedure
type Symbol struct {
	result ctype.Type
	proc   Proc
	lib    *Library
	name   string
	args   []ctype.Type
}

func (s *Symbol) Name() string { return s.name }

func (s *Symbol) SetTypes(args []ctype.Type, result ctype.Type) error {
	s.args = args
	s.result = result
	return nil
}

func (s *Symbol) Call(ctx context.Context, args []any) (any, error) {
	return s.proc(ctx, &Call{
		Args:   args,
		Types:  s.args,
		Result: s.result,
		Space:  s.lib.loader.space,
		Calc:   s.lib.loader.calc,
	})
}

// Call carries the arguments of one procedure invocation together with the
// address space they live in.
type Call struct {
	Result ctype.Type
	Space  drawbridge.Space
	Calc   *layout.Calculator
	Args   []any
	Types  []ctype.Type
}

// Arg returns argument i with one level of Cell removed
func (c *Call) Arg(i int) any {
	if i >= len(c.Args) {
		return nil
	}
	return native.Deref(c.Args[i])
}

// Int returns argument i as an integer
func (c *Call) Int(i int) int64 {
	n, _ := native.Int64(c.Arg(i))
	return n
}

// Float returns argument i as a float
func (c *Call) Float(i int) float64 {
	f, _ := native.Float64(c.Arg(i))
	return f
}

// String returns argument i as a string
func (c *Call) String(i int) string {
	s, _ := c.Arg(i).(string)
	return s
}

// Addr returns argument i as an address
func (c *Call) Addr(i int) native.Address {
	a, _ := native.AddressOf(c.Arg(i))
	return a
}

// Cell returns argument i when it was passed by reference
func (c *Call) Cell(i int) *native.Cell {
	if i >= len(c.Args) {
		return nil
	}
	cell, _ := c.Args[i].(*native.Cell)
	return cell
}

// Callback returns argument i as a function pointer
func (c *Call) Callback(i int) *native.Callback {
	cb, _ := c.Arg(i).(*native.Callback)
	return cb
}

// Struct returns argument i as a struct value
func (c *Call) Struct(i int) *native.Struct {
	s, _ := c.Arg(i).(*native.Struct)
	return s
}

// Load reads a value of type t from the call's address space
func (c *Call) Load(addr native.Address, t ctype.Type) (any, error) {
	return native.Load(c.Space, c.Calc, uint64(addr), t)
}

// Store writes v as type t into the call's address space
func (c *Call) Store(addr native.Address, t ctype.Type, v any) error {
	return native.Store(c.Space, c.Calc, uint64(addr), t, v, nil)
}

// Alloc allocates a block owned by the caller of the procedure
func (c *Call) Alloc(size, align uint32) (native.Address, error) {
	addr, err := c.Space.Alloc(size, align)
	return native.Address(addr), err
}

// SizeOf returns the size of t in the library's data model
func (c *Call) SizeOf(t ctype.Type) uint32 {
	return c.Calc.SizeOf(t)
}
