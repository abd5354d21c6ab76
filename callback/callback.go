// Package callback carries function pointers across the boundary.
//
// The side that owns a callable holds it: a Client is registered once per
// callback name with the local rpc server and serves the callee half of
// every invocation. The peer installs a Server, a *native.Callback stub that
// runs the caller half over the peer connection whenever the foreign code
// invokes it. Both are kept in the session cache under the callback name, so
// a function pointer passed on every call of a hot routine is registered
// exactly once.
package callback

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/cache"
	"github.com/wippyai/drawbridge/codec"
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/native"
	"github.com/wippyai/drawbridge/rpc"
)

// Bridge implements codec.Bridge for one side of a session
type Bridge struct {
	cache  *cache.Cache
	codec  *codec.Codec
	server *rpc.Server
	side   *definition.Side
	log    *zap.Logger
	peer   *rpc.Client
	mu     sync.RWMutex
}

var _ codec.Bridge = (*Bridge)(nil)

// NewBridge creates a bridge that registers held callbacks with server and
// runs their memsync in side. The bridge installs itself into c.
func NewBridge(c *codec.Codec, server *rpc.Server, side *definition.Side, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bridge{
		cache:  c.Cache(),
		codec:  c,
		server: server,
		side:   side,
		log:    log,
	}
	c.SetBridge(b)
	return b
}

// SetPeer sets the connection stubs invoke held callbacks through
func (b *Bridge) SetPeer(peer *rpc.Client) {
	b.mu.Lock()
	b.peer = peer
	b.mu.Unlock()
}

func (b *Bridge) peerClient() (*rpc.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.peer == nil {
		return nil, errors.New(errors.PhaseTransport, errors.KindClosed).Detail("no peer connection for callbacks").Build()
	}
	return b.peer, nil
}

// Hold registers cb with the local server unless it is already known and
// returns the name the peer reaches it under
func (b *Bridge) Hold(cb *native.Callback, def *definition.Func) (string, error) {
	h, loaded, err := b.cache.LoadOrStoreHandle(cb.Name(), func() (any, error) {
		c := &Client{
			callback: cb,
			sig:      codec.NewSignature(cb.Name(), def, false),
			bridge:   b,
		}
		b.server.Register(cb.Name(), c.handle)
		return c, nil
	})
	if err != nil {
		return "", err
	}
	switch v := h.(type) {
	case *Client:
		if loaded && v.callback != cb {
			return "", collision(cb.Name())
		}
	case *Server:
		// a stub handed back to the side that holds the original
		if v.callback != cb {
			return "", collision(cb.Name())
		}
	}
	if !loaded {
		b.log.Debug("callback registered", zap.String("name", cb.Name()), zap.String("type", def.TypeName()))
	}
	return cb.Name(), nil
}

// Stub returns the callable standing for the peer's callback name
func (b *Bridge) Stub(name string, def *definition.Func) (*native.Callback, error) {
	h, _, err := b.cache.LoadOrStoreHandle(name, func() (any, error) {
		s := &Server{
			name:   name,
			sig:    codec.NewSignature(name, def, false),
			bridge: b,
		}
		s.callback = native.NamedCallback(name, s.invoke)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	switch v := h.(type) {
	case *Server:
		return v.callback, nil
	case *Client:
		// the peer passed one of our own callbacks back
		return v.callback, nil
	}
	return nil, collision(name)
}

func collision(name string) error {
	return errors.New(errors.PhaseCodec, errors.KindInvalidInput).
		Detail("callback name %s is bound to another function", name).
		Build()
}

// Client is the holder side of a callback
type Client struct {
	callback *native.Callback
	sig      *codec.Signature
	bridge   *Bridge
	calls    int64
	mu       sync.Mutex
}

// Calls returns how many times the peer invoked the callback
func (c *Client) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Client) handle(ctx context.Context, args rpc.Args) (any, error) {
	var req codec.Request
	if err := args.Decode(0, &req); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	fn := func(ctx context.Context, a []any) (any, error) {
		return c.callback.Call(ctx, a...)
	}
	return c.bridge.codec.Serve(ctx, c.sig, c.bridge.side, fn, &req), nil
}

// Server is the caller side of a peer's callback
type Server struct {
	callback *native.Callback
	sig      *codec.Signature
	bridge   *Bridge
	name     string
}

// Callback returns the stub foreign code invokes
func (s *Server) Callback() *native.Callback {
	return s.callback
}

func (s *Server) invoke(ctx context.Context, args []any) (any, error) {
	peer, err := s.bridge.peerClient()
	if err != nil {
		return nil, err
	}
	invoke := func(ctx context.Context, req *codec.Request) (*codec.Envelope, error) {
		var env codec.Envelope
		if err := peer.Call(ctx, s.name, &env, req); err != nil {
			return nil, err
		}
		return &env, nil
	}
	return s.bridge.codec.Call(ctx, s.sig, s.bridge.side, invoke, args)
}

func (s *Server) String() string {
	return fmt.Sprintf("<callback stub %s args=%d>", s.name, len(s.sig.Args))
}
