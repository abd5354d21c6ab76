package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/drawbridge/cache"
	"github.com/wippyai/drawbridge/callback"
	"github.com/wippyai/drawbridge/codec"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/native"
	"github.com/wippyai/drawbridge/rpc"
)

// Functions every companion serves on the control channel. Per library and
// routine functions are named <hash>_repr, <hash>_register, <hash>_exports,
// <hash>_<routine>_configure and <hash>_<routine>_handle_call.
const (
	FuncLoadLibrary  = "load_library"
	FuncSetParameter = "set_parameter"
	FuncTerminate    = "terminate"
)

// StatusDown is the status a terminating companion reports
const StatusDown = "down"

// LibraryInfo answers load_library
type LibraryInfo struct {
	Hash string            `msgpack:"hash"`
	ABI  string            `msgpack:"abi"`
	Name string            `msgpack:"name"`
	Kind ctype.LibraryKind `msgpack:"kind"`
}

func libraryHash(name string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(name))
}

func routineFunc(hash, routine, fn string) string {
	return hash + "_" + routine + "_" + fn
}

// ServerConfig configures a companion
type ServerConfig struct {
	StartInfo
	Loader         native.Loader
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
}

// Server is the companion side of a session. It loads libraries through its
// Loader and serves their routines to the caller.
type Server struct {
	cfg      ServerConfig
	base     *zap.Logger
	log      *zap.Logger
	cache    *cache.Cache
	ctrl     *rpc.Server
	peer     *rpc.Client
	libs     map[string]*libraryServer
	stop     chan struct{}
	level    zap.AtomicLevel
	remote   atomic.Bool
	up       atomic.Bool
	mu       sync.Mutex
	stopOnce sync.Once
}

// NewServer creates a companion. Start binds it, Serve runs it.
func NewServer(cfg ServerConfig) *Server {
	level := zap.NewAtomicLevel()
	if l, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		level.SetLevel(l)
	}
	base := cfg.Logger
	if base == nil {
		base = zap.NewNop()
	}
	base = base.WithOptions(zap.IncreaseLevel(level)).With(zap.String("session", cfg.ID))
	s := &Server{
		cfg:   cfg,
		base:  base,
		log:   base,
		cache: cache.New(),
		libs:  make(map[string]*libraryServer),
		stop:  make(chan struct{}),
		level: level,
	}
	s.remote.Store(cfg.RemoteLog)
	return s
}

func (s *Server) rpcOptions() *rpc.Options {
	opts := &rpc.Options{
		Logger:            s.base.Named("rpc"),
		CompressThreshold: s.cfg.CompressThreshold,
	}
	if s.cfg.TracerProvider != nil {
		opts.Hooks = append(opts.Hooks, rpc.NewTracingHook(s.cfg.TracerProvider))
	}
	return opts
}

// Start listens on the control port and connects back to the caller's
// callback channel. get_status reports up once Start returned.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Loader == nil {
		return errors.InvalidInput(errors.PhaseSession, "companion has no library loader")
	}
	s.ctrl = rpc.NewServer(s.rpcOptions())
	s.ctrl.Register(rpc.StatusFunc, s.status)
	s.ctrl.Register(FuncLoadLibrary, s.loadLibrary)
	s.ctrl.Register(FuncSetParameter, s.setParameter)
	s.ctrl.Register(FuncTerminate, s.terminate)
	if err := s.ctrl.Listen(s.cfg.ControlAddr()); err != nil {
		return err
	}

	peer, err := rpc.ConnectWithRetry(ctx, s.cfg.CallbackAddr(), rpc.RetryOptions{Options: s.rpcOptions()})
	if err != nil {
		_ = s.ctrl.Close()
		return err
	}
	s.peer = peer
	s.log = zap.New(zapcore.NewTee(s.base.Core(), newRemoteCore(peer, s.level, &s.remote))).
		With(zap.String("session", s.cfg.ID))

	s.up.Store(true)
	s.log.Info("companion started",
		zap.String("control", s.ctrl.Addr().String()),
		zap.String("callback", s.cfg.CallbackAddr()))
	return nil
}

// Serve dispatches requests until terminate is called, ctx ends or Close
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.ctrl.Serve(ctx)
	s.up.Store(false)
	s.release()
	return err
}

// Close stops the companion
func (s *Server) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.ctrl == nil {
		return nil
	}
	return s.ctrl.Close()
}

// Addr returns the control address
func (s *Server) Addr() string {
	return s.ctrl.Addr().String()
}

func (s *Server) release() {
	s.mu.Lock()
	libs := s.libs
	s.libs = map[string]*libraryServer{}
	s.mu.Unlock()

	ctx := context.Background()
	for name, l := range libs {
		if err := l.lib.Close(ctx); err != nil {
			s.base.Warn("close library", zap.String("library", name), zap.Error(err))
		}
	}
	if s.peer != nil {
		_ = s.peer.Close()
	}
}

func (s *Server) status(context.Context, rpc.Args) (any, error) {
	if s.up.Load() {
		return rpc.StatusUp, nil
	}
	return StatusDown, nil
}

func (s *Server) terminate(context.Context, rpc.Args) (any, error) {
	if s.up.Swap(false) {
		s.log.Info("companion terminating")
	}
	s.stopOnce.Do(func() { close(s.stop) })
	return nil, nil
}

func (s *Server) setParameter(_ context.Context, args rpc.Args) (any, error) {
	key, err := args.String(0)
	if err != nil {
		return nil, err
	}
	value, err := args.String(1)
	if err != nil {
		return nil, err
	}
	switch key {
	case "log_level":
		l, err := zapcore.ParseLevel(value)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, key)
		}
		s.level.SetLevel(l)
	case "remote_log":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, key)
		}
		s.remote.Store(on)
	default:
		return nil, errors.NotFound(errors.PhaseConfig, "parameter", key)
	}
	s.log.Debug("parameter set", zap.String("key", key), zap.String("value", value))
	return nil, nil
}

func (s *Server) loadLibrary(ctx context.Context, args rpc.Args) (any, error) {
	name, err := args.String(0)
	if err != nil {
		return nil, err
	}
	kindName, err := args.String(1)
	if err != nil {
		return nil, err
	}
	kind := ctype.LibraryKind(kindName)
	if !kind.Valid() {
		return nil, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("unknown library kind %q", kindName))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.libs[name]; ok {
		return l.info(), nil
	}

	lib, err := s.cfg.Loader.Load(ctx, name, kind)
	if err != nil {
		s.log.Warn("load library failed", zap.String("library", name), zap.Error(err))
		return nil, err
	}
	l := newLibraryServer(s, lib, kind, libraryHash(name))
	s.libs[name] = l
	s.ctrl.Register(l.hash+"_repr", l.repr)
	s.ctrl.Register(l.hash+"_register", l.register)
	s.ctrl.Register(l.hash+"_exports", l.exports)
	s.log.Info("library loaded",
		zap.String("library", name),
		zap.String("kind", kindName),
		zap.String("abi", lib.ABI().Name),
		zap.String("hash", l.hash))
	return l.info(), nil
}

// libraryServer serves one loaded library. Callbacks passed to its routines
// run their memsync in the library's address space.
type libraryServer struct {
	srv      *Server
	lib      native.Library
	codec    *codec.Codec
	side     *definition.Side
	builder  *definition.Builder
	log      *zap.Logger
	routines map[string]*routineServer
	hash     string
	kind     ctype.LibraryKind
	mu       sync.Mutex
}

func newLibraryServer(s *Server, lib native.Library, kind ctype.LibraryKind, hash string) *libraryServer {
	log := s.log.With(zap.String("library", lib.Name()))
	l := &libraryServer{
		srv:      s,
		lib:      lib,
		side:     definition.NewSide(lib.Space(), lib.ABI()),
		builder:  definition.NewBuilder(s.cache, lib.ABI()),
		log:      log,
		routines: make(map[string]*routineServer),
		hash:     hash,
		kind:     kind,
	}
	l.codec = codec.New(s.cache, nil, log)
	bridge := callback.NewBridge(l.codec, s.ctrl, l.side, log.Named("callback"))
	bridge.SetPeer(s.peer)
	return l
}

func (l *libraryServer) info() *LibraryInfo {
	return &LibraryInfo{Hash: l.hash, ABI: l.lib.ABI().Name, Name: l.lib.Name(), Kind: l.kind}
}

var kindNames = map[ctype.LibraryKind]string{
	ctype.CDLL:   "CDLL",
	ctype.WinDLL: "WinDLL",
	ctype.OleDLL: "OleDLL",
}

func (l *libraryServer) repr(context.Context, rpc.Args) (any, error) {
	l.mu.Lock()
	n := len(l.routines)
	l.mu.Unlock()
	return fmt.Sprintf("<%s '%s', abi %s, hash %s, %d routines>", kindNames[l.kind], l.lib.Name(), l.lib.ABI().Name, l.hash, n), nil
}

// exportInfo describes one routine of a library. Signature is nil when the
// library does not declare it.
type exportInfo struct {
	Signature *definition.Wire `msgpack:"signature,omitempty"`
	Name      string           `msgpack:"name"`
}

func (l *libraryServer) exports(ctx context.Context, _ rpc.Args) (any, error) {
	en, ok := l.lib.(native.Enumerator)
	if !ok {
		return nil, errors.Unsupported(errors.PhaseLoad, "listing the routines of "+l.lib.Name())
	}
	names := en.Exports()
	out := make([]exportInfo, 0, len(names))
	for _, name := range names {
		info := exportInfo{Name: name}
		sym, err := l.lib.Symbol(ctx, name)
		if err != nil {
			return nil, err
		}
		if d, ok := sym.(native.Describer); ok {
			if args, result, ok := d.Signature(); ok {
				fn, err := l.builder.Routine(args, result, l.kind.Convention(), nil)
				if err != nil {
					return nil, err
				}
				info.Signature = fn.Wire()
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (l *libraryServer) register(ctx context.Context, args rpc.Args) (any, error) {
	name, err := args.String(0)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.routines[name]; ok {
		return true, nil
	}
	sym, err := l.lib.Symbol(ctx, name)
	if err != nil {
		return nil, err
	}
	r := &routineServer{lib: l, sym: sym, name: name}
	l.routines[name] = r
	l.srv.ctrl.Register(routineFunc(l.hash, name, "configure"), r.configure)
	l.srv.ctrl.Register(routineFunc(l.hash, name, "handle_call"), r.handleCall)
	l.log.Debug("routine registered", zap.String("routine", name))
	return true, nil
}

type routineServer struct {
	lib  *libraryServer
	sym  native.Symbol
	sig  atomic.Pointer[codec.Signature]
	name string
}

func (r *routineServer) configure(_ context.Context, args rpc.Args) (any, error) {
	var w definition.Wire
	if err := args.Decode(0, &w); err != nil {
		return nil, err
	}
	var typed bool
	if err := args.Decode(1, &typed); err != nil {
		return nil, err
	}
	d, err := r.lib.builder.FromWire(&w)
	if err != nil {
		return nil, err
	}
	fn, ok := d.(*definition.Func)
	if !ok {
		return nil, errors.New(errors.PhaseDefinition, errors.KindGroup).
			Detail("routine %s configured with a %s definition", r.name, d.Group()).
			Build()
	}
	if typed {
		raw := fn.BaseType().(*ctype.Func)
		if err := r.sym.SetTypes(raw.Args, raw.Result); err != nil {
			return nil, err
		}
	}
	sig := codec.NewSignature(r.name, fn, r.lib.kind.Variadic())
	sig.Typed = typed
	r.sig.Store(sig)
	r.lib.log.Debug("routine configured",
		zap.String("routine", r.name),
		zap.Int("args", len(fn.Args)),
		zap.Int("memsyncs", len(fn.Memsyncs)),
		zap.Bool("typed", typed))
	return nil, nil
}

func (r *routineServer) handleCall(ctx context.Context, args rpc.Args) (any, error) {
	sig := r.sig.Load()
	if sig == nil {
		return nil, errors.New(errors.PhaseSession, errors.KindInvalidInput).
			Detail("routine %s called before configure", r.name).
			Build()
	}
	var req codec.Request
	if err := args.Decode(0, &req); err != nil {
		return nil, err
	}
	return r.lib.codec.Serve(ctx, sig, r.lib.side, r.invoke, &req), nil
}

func (r *routineServer) invoke(ctx context.Context, args []any) (any, error) {
	res, err := r.sym.Call(ctx, args)
	if err != nil {
		r.lib.log.Debug("routine failed", zap.String("routine", r.name), zap.Error(err))
		return nil, err
	}
	if r.lib.kind == ctype.OleDLL {
		return res, checkHResult(res)
	}
	return res, nil
}

// checkHResult fails on HRESULT values with the severity bit set
func checkHResult(v any) error {
	n, ok := native.Int64(v)
	if !ok || int32(n) >= 0 {
		return nil
	}
	return errors.New(errors.PhaseCall, errors.KindHResult).
		Value(n).
		Detail("HRESULT 0x%08X", uint32(n)).
		Build()
}
