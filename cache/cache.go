// Package cache holds the per-session registries shared by both sides of a
// bridge: native struct and function types keyed by structural hash, and the
// callback handle map.
package cache

import (
	"sync"

	"github.com/wippyai/drawbridge/ctype"
)

// FuncKey identifies a function type by calling convention and hash
type FuncKey struct {
	Hash       uint64
	Convention ctype.Convention
}

// Cache is safe for concurrent use. Type entries are insert-if-absent: the
// first registration for a hash wins and later ones receive it back.
type Cache struct {
	structs sync.Map // uint64 -> *ctype.Struct
	names   sync.Map // struct name -> uint64
	funcs   sync.Map // FuncKey -> *ctype.Func
	handles map[string]any
	mu      sync.Mutex
}

func New() *Cache {
	return &Cache{handles: make(map[string]any)}
}

// Struct returns the struct type registered under hash
func (c *Cache) Struct(hash uint64) (*ctype.Struct, bool) {
	v, ok := c.structs.Load(hash)
	if !ok {
		return nil, false
	}
	return v.(*ctype.Struct), true
}

// LoadOrStoreStruct registers s under hash unless a type is already there,
// and returns the registered type. A declared name is indexed even when an
// equivalent type was registered first.
func (c *Cache) LoadOrStoreStruct(hash uint64, s *ctype.Struct) *ctype.Struct {
	v, _ := c.structs.LoadOrStore(hash, s)
	c.NameStruct(s.Name, hash)
	return v.(*ctype.Struct)
}

// NameStruct indexes a declared name for the struct registered under hash.
// The first hash indexed for a name keeps it.
func (c *Cache) NameStruct(name string, hash uint64) {
	if name != "" {
		c.names.LoadOrStore(name, hash)
	}
}

// StructByName returns the struct type registered for a declared name
func (c *Cache) StructByName(name string) (*ctype.Struct, bool) {
	h, ok := c.names.Load(name)
	if !ok {
		return nil, false
	}
	return c.Struct(h.(uint64))
}

// Func returns the function type registered under (conv, hash)
func (c *Cache) Func(conv ctype.Convention, hash uint64) (*ctype.Func, bool) {
	v, ok := c.funcs.Load(FuncKey{Hash: hash, Convention: conv})
	if !ok {
		return nil, false
	}
	return v.(*ctype.Func), true
}

// LoadOrStoreFunc registers f unless a type is already present
func (c *Cache) LoadOrStoreFunc(conv ctype.Convention, hash uint64, f *ctype.Func) *ctype.Func {
	v, _ := c.funcs.LoadOrStore(FuncKey{Hash: hash, Convention: conv}, f)
	return v.(*ctype.Func)
}

// Handle returns the object registered under name
func (c *Cache) Handle(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[name]
	return h, ok
}

// LoadOrStoreHandle returns the handle registered under name, creating it
// with create when absent. create runs under the registry lock, so at most
// one handle is ever created per name. loaded reports whether the handle
// already existed.
func (c *Cache) LoadOrStoreHandle(name string, create func() (any, error)) (h any, loaded bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[name]; ok {
		return h, true, nil
	}
	h, err = create()
	if err != nil {
		return nil, false, err
	}
	c.handles[name] = h
	return h, false, nil
}

// Handles returns the number of registered handles
func (c *Cache) Handles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}
