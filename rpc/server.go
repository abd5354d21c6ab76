package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/errors"
)

// Handler serves one named function. Returned errors travel to the caller
// as values; they never break the connection.
type Handler func(ctx context.Context, args Args) (any, error)

// Options configure servers and clients
type Options struct {
	Logger *zap.Logger
	Hooks  []DispatchHook
	// CompressThreshold is the payload size above which frames are zstd
	// compressed. Zero selects DefaultCompressThreshold, negative disables.
	CompressThreshold int
	// WriteTimeout bounds writing one response frame
	WriteTimeout time.Duration
}

func (o *Options) threshold() int {
	if o == nil || o.CompressThreshold == 0 {
		return DefaultCompressThreshold
	}
	return o.CompressThreshold
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return Logger()
	}
	return o.Logger
}

// Server dispatches requests by function name. Every connection is read on
// its own goroutine and every request runs on its own goroutine, so a
// handler may block on a nested call without stalling other requests.
type Server struct {
	listener net.Listener
	handlers map[string]Handler
	conns    sync.Map
	log      *zap.Logger
	id       string
	hooks    hooks
	mu       sync.RWMutex
	closed   atomic.Bool
	thresh   int
	wtimeout time.Duration
}

// NewServer creates a server with no registered functions
func NewServer(opts *Options) *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		log:      opts.logger(),
		id:       uuid.NewString(),
		thresh:   opts.threshold(),
		wtimeout: 30 * time.Second,
	}
	if opts != nil {
		s.hooks = opts.Hooks
		if opts.WriteTimeout > 0 {
			s.wtimeout = opts.WriteTimeout
		}
	}
	return s
}

// ID returns the server's unique identifier
func (s *Server) ID() string {
	return s.id
}

// Register makes h callable under name, replacing any previous handler
func (s *Server) Register(name string, h Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

// Unregister removes the handler registered under name
func (s *Server) Unregister(name string) {
	s.mu.Lock()
	delete(s.handlers, name)
	s.mu.Unlock()
}

// Registered reports whether a handler exists for name
func (s *Server) Registered(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handlers[name]
	return ok
}

// Listen binds the server to a TCP address. Port 0 picks a free port.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "listen on "+addr)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Close is called or ctx ends
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New(errors.PhaseTransport, errors.KindInvalidInput).Detail("serve before listen").Build()
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			delay = acceptBackoff(delay)
			s.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		go s.handleConn(ctx, conn)
	}
}

// acceptBackoff doubles the wait after a failed Accept, from 5ms up to 1s
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	return min(2*prev, time.Second)
}

type serverConn struct {
	net.Conn
	writeMu sync.Mutex
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	conn := &serverConn{Conn: nc}
	s.conns.Store(conn, struct{}{})
	defer func() {
		s.conns.Delete(conn)
		_ = nc.Close()
	}()

	for {
		f, err := readFrame(nc)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("connection closed", zap.String("remote", nc.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
		switch f.typ {
		case frameRequest:
			go s.dispatch(ctx, conn, f, true)
		case frameNotify:
			go s.dispatch(ctx, conn, f, false)
		default:
			s.log.Warn("unexpected frame", zap.Uint8("type", uint8(f.typ)))
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn *serverConn, f frame, reply bool) {
	var req request
	if err := unmarshal(f.payload, &req); err != nil {
		s.log.Warn("malformed request", zap.Error(err))
		if reply {
			s.write(conn, f.id, s.encodeResponse(nil, err))
		}
		return
	}

	info := DispatchInfo{Method: req.Name, ServerID: s.id, RemoteAddr: conn.RemoteAddr().String(), RequestID: f.id}
	stats := &CallStatistics{InputBytes: int64(len(f.payload)), Args: len(req.Args)}
	ctx, tokens := s.hooks.start(ctx, info)

	result, err := s.invoke(ctx, req)
	if !reply {
		s.hooks.end(ctx, tokens, info, stats, err)
		return
	}
	payload := s.encodeResponse(result, err)
	stats.OutputBytes = int64(len(payload))
	s.hooks.end(ctx, tokens, info, stats, err)
	s.write(conn, f.id, payload)
}

func (s *Server) invoke(ctx context.Context, req request) (result any, err error) {
	s.mu.RLock()
	h, ok := s.handlers[req.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(errors.PhaseTransport, "function", req.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", zap.String("name", req.Name), zap.Any("panic", r))
			err = errors.New(errors.PhaseTransport, errors.KindRemote).
				GoType(fmt.Sprintf("%T", r)).
				Detail("panic in %s: %v", req.Name, r).
				Build()
		}
	}()
	return h(ctx, Args(req.Args))
}

func (s *Server) encodeResponse(result any, err error) []byte {
	resp := response{Error: errors.ToWire(err)}
	if err == nil {
		raw, merr := marshal(result)
		if merr != nil {
			resp.Error = errors.ToWire(merr)
		} else {
			resp.Result = raw
		}
	}
	payload, merr := marshal(&resp)
	if merr != nil {
		s.log.Error("encode response", zap.Error(merr))
		payload, _ = marshal(&response{Error: errors.ToWire(merr)})
	}
	return payload
}

func (s *Server) write(conn *serverConn, id uint32, payload []byte) {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.wtimeout))
	if err := writeFrame(conn, frameResponse, id, payload, s.thresh); err != nil {
		s.log.Debug("write response", zap.Uint32("id", id), zap.Error(err))
	}
}

// Close stops accepting and closes every open connection
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.conns.Range(func(key, _ any) bool {
		_ = key.(*serverConn).Close()
		return true
	})
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
