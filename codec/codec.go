package codec

import (
	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/cache"
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/native"
)

// Bridge moves function pointer values across the boundary. Hold runs on
// the side that owns the callable and returns the name it is reachable
// under; Stub runs on the peer and returns a callable that forwards to it.
type Bridge interface {
	Hold(cb *native.Callback, def *definition.Func) (string, error)
	Stub(name string, def *definition.Func) (*native.Callback, error)
}

// Codec converts native values to their wire form and back
type Codec struct {
	cache  *cache.Cache
	bridge Bridge
	log    *zap.Logger
}

// New creates a codec. bridge may be nil when no function pointers travel.
func New(c *cache.Cache, bridge Bridge, log *zap.Logger) *Codec {
	if log == nil {
		log = zap.NewNop()
	}
	return &Codec{cache: c, bridge: bridge, log: log}
}

// SetBridge installs the bridge used for function items
func (c *Codec) SetBridge(b Bridge) {
	c.bridge = b
}

// Cache returns the session cache
func (c *Codec) Cache() *cache.Cache {
	return c.cache
}

// Signature is a configured routine or function type
type Signature struct {
	Result   definition.Definition
	Name     string
	Args     []definition.Definition
	Memsyncs []*definition.Memsync
	// Typed is false until argument types were set; untyped calls pass
	// arguments through as they are.
	Typed bool
	// Variadic allows more arguments than Args declares
	Variadic bool
}

// NewSignature creates a signature from a function definition
func NewSignature(name string, fn *definition.Func, variadic bool) *Signature {
	return &Signature{
		Name:     name,
		Args:     fn.Args,
		Result:   fn.Result,
		Memsyncs: fn.Memsyncs,
		Typed:    true,
		Variadic: variadic,
	}
}
