package session

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/drawbridge/cache"
	"github.com/wippyai/drawbridge/callback"
	"github.com/wippyai/drawbridge/codec"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/native/arena"
	"github.com/wippyai/drawbridge/rpc"
)

// forwarded lists the parameters the companion also applies
var forwarded = map[string]bool{"log_level": true, "remote_log": true}

// Session is the caller side of a bridge to one companion process
type Session struct {
	cfg      Config
	log      *zap.Logger
	cache    *cache.Cache
	codec    *codec.Codec
	side     *definition.Side
	callback *rpc.Server
	client   *rpc.Client
	proc     Process
	cancel   context.CancelFunc
	libs     map[string]*Library
	id       string
	level    zap.AtomicLevel
	mu       sync.Mutex
	closed   bool
}

// New starts a companion through cfg.Bootstrap and connects to it. The
// callback channel is up before the companion starts so it can connect
// back immediately.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	callerABI, _ := ctype.ABIByName(cfg.CallerABI)
	if cfg.Bootstrap == nil {
		if cfg.Companion == "" {
			return nil, errors.InvalidInput(errors.PhaseSession, "no bootstrap and no companion executable configured")
		}
		cfg.Bootstrap = &Exec{Path: cfg.Companion}
	}
	if cfg.Space == nil {
		cfg.Space = arena.New(0)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	level := zap.NewAtomicLevel()
	if l, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		level.SetLevel(l)
	}
	base := cfg.Logger
	if base == nil {
		base = zap.NewNop()
	}
	base = base.WithOptions(zap.IncreaseLevel(level)).With(zap.String("session", cfg.ID))

	s := &Session{
		cfg:   cfg,
		log:   base.Named("session"),
		cache: cache.New(),
		side:  definition.NewSide(cfg.Space, callerABI),
		libs:  make(map[string]*Library),
		id:    cfg.ID,
		level: level,
	}
	s.codec = codec.New(s.cache, nil, base.Named("codec"))

	opts := &rpc.Options{Logger: base.Named("rpc"), CompressThreshold: cfg.CompressThreshold}
	if cfg.TracerProvider != nil {
		opts.Hooks = append(opts.Hooks, rpc.NewTracingHook(cfg.TracerProvider))
	}
	s.callback = rpc.NewServer(opts)
	s.callback.Register(rpc.StatusFunc, func(context.Context, rpc.Args) (any, error) { return rpc.StatusUp, nil })
	s.callback.Register(logFunc, logHandler(base))
	if err := s.callback.Listen(net.JoinHostPort(cfg.Host, "0")); err != nil {
		return nil, err
	}
	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go func() {
		if err := s.callback.Serve(serveCtx); err != nil {
			s.log.Warn("callback server stopped", zap.Error(err))
		}
	}()
	bridge := callback.NewBridge(s.codec, s.callback, s.side, base.Named("callback"))

	controlPort, err := freePort(cfg.Host)
	if err != nil {
		cancel()
		return nil, err
	}
	info := StartInfo{
		ID:                cfg.ID,
		Host:              cfg.Host,
		LogLevel:          cfg.LogLevel,
		SearchPath:        cfg.SearchPath,
		ControlPort:       controlPort,
		CallbackPort:      s.callback.Addr().(*net.TCPAddr).Port,
		CompressThreshold: cfg.CompressThreshold,
		RemoteLog:         cfg.RemoteLog,
	}
	s.log.Info("starting companion",
		zap.String("caller_abi", callerABI.Name),
		zap.Int("control_port", info.ControlPort),
		zap.Int("callback_port", info.CallbackPort))

	s.proc, err = cfg.Bootstrap.Start(ctx, info)
	if err != nil {
		cancel()
		return nil, err
	}

	start := time.Now()
	s.client, err = rpc.ConnectWithRetry(ctx, info.ControlAddr(), rpc.RetryOptions{
		Options:  opts,
		Interval: time.Duration(cfg.ConnectInterval),
		Timeout:  time.Duration(cfg.ConnectTimeout),
	})
	if err != nil {
		s.log.Error("companion did not come up", zap.Error(err))
		_ = s.proc.Kill()
		cancel()
		return nil, err
	}
	bridge.SetPeer(s.client)
	s.log.Info("session started", zap.Duration("took", time.Since(start)))
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Config returns the configuration in effect
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Cache returns the session's type and callback registries
func (s *Session) Cache() *cache.Cache {
	return s.cache
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.PhaseSession, errors.KindClosed).Detail("session %s is closed", s.id).Build()
	}
	return nil
}

// Load opens a library in the companion. Libraries are cached by name.
func (s *Session) Load(ctx context.Context, name string, kind ctype.LibraryKind) (*Library, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, errors.InvalidInput(errors.PhaseLoad, "unknown library kind "+string(kind))
	}
	s.mu.Lock()
	if lib, ok := s.libs[name]; ok {
		s.mu.Unlock()
		return lib, nil
	}
	s.mu.Unlock()

	var info LibraryInfo
	if err := s.client.Call(ctx, FuncLoadLibrary, &info, name, string(kind)); err != nil {
		return nil, err
	}
	abi, err := ctype.ABIByName(info.ABI)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindProtocol, err, "library "+name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lib, ok := s.libs[name]; ok {
		return lib, nil
	}
	lib := &Library{
		session:  s,
		name:     name,
		hash:     info.Hash,
		kind:     kind,
		abi:      abi,
		builder:  definition.NewBuilder(s.cache, abi),
		routines: make(map[string]*Routine),
		log:      s.log.With(zap.String("library", name)),
	}
	s.libs[name] = lib
	lib.log.Debug("library attached", zap.String("hash", info.Hash), zap.String("abi", abi.Name))
	return lib, nil
}

// CDLL loads a cdecl library
func (s *Session) CDLL(ctx context.Context, name string) (*Library, error) {
	return s.Load(ctx, name, ctype.CDLL)
}

// WinDLL loads a stdcall library
func (s *Session) WinDLL(ctx context.Context, name string) (*Library, error) {
	return s.Load(ctx, name, ctype.WinDLL)
}

// OleDLL loads a stdcall library whose routines return checked HRESULTs
func (s *Session) OleDLL(ctx context.Context, name string) (*Library, error) {
	return s.Load(ctx, name, ctype.OleDLL)
}

// SetParameter changes a configuration value. log_level and remote_log
// take effect on both sides.
func (s *Session) SetParameter(ctx context.Context, key, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	cfg := s.cfg
	if err := cfg.Set(key, value); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = cfg
	s.mu.Unlock()

	if key == "log_level" {
		l, _ := zapcore.ParseLevel(value)
		s.level.SetLevel(l)
	}
	if forwarded[key] {
		if err := s.client.Call(ctx, FuncSetParameter, nil, key, value); err != nil {
			return err
		}
	}
	s.log.Debug("parameter set", zap.String("key", key), zap.String("value", value))
	return nil
}

// Close terminates the companion. It asks for a cooperative shutdown
// first, then interrupts and finally kills the process, waiting up to
// TerminateTimeout after each step. A companion that survives all three
// is reported as a fatal session error.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	defer s.cancel()

	s.log.Info("terminating companion")
	if err := s.client.Notify(ctx, FuncTerminate); err != nil {
		s.log.Debug("terminate not delivered", zap.Error(err))
	}
	defer func() { _ = s.client.Close() }()

	timeout := time.Duration(s.cfg.TerminateTimeout)
	interval := time.Duration(s.cfg.ConnectInterval)
	if s.waitFor(ctx, timeout, interval, s.statusDown) && s.waitFor(ctx, timeout, interval, s.exited) {
		s.log.Info("companion terminated")
		return nil
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"interrupt", s.proc.Interrupt},
		{"kill", s.proc.Kill},
	}
	for _, step := range steps {
		s.log.Warn("companion still alive, escalating", zap.String("step", step.name))
		if err := step.fn(); err != nil {
			s.log.Warn("escalation failed", zap.String("step", step.name), zap.Error(err))
		}
		if s.waitFor(ctx, timeout, interval, s.exited) {
			s.log.Info("companion terminated", zap.String("step", step.name))
			return nil
		}
	}
	s.log.Error("companion survived termination")
	return errors.Timeout(errors.PhaseSession, "companion of session "+s.id+" did not exit after kill", nil)
}

// waitFor polls done until it holds or timeout passes. At the deadline only
// process liveness is consulted.
func (s *Session) waitFor(ctx context.Context, timeout, interval time.Duration, done func(context.Context) bool) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if done(ctx) {
		return true
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return !s.proc.Alive()
		case <-ticker.C:
			if done(ctx) {
				return true
			}
		}
	}
}

func (s *Session) exited(context.Context) bool {
	return !s.proc.Alive()
}

// statusDown polls the companion's status flag. A companion that no longer
// answers counts as down.
func (s *Session) statusDown(ctx context.Context) bool {
	if !s.proc.Alive() {
		return true
	}
	// Call stops watching ctx once the request is sent
	stop := context.AfterFunc(ctx, func() { _ = s.client.Close() })
	defer stop()
	var status string
	err := s.client.Call(ctx, rpc.StatusFunc, &status)
	if err == nil && status == rpc.StatusUp {
		return false
	}
	s.log.Debug("companion stopped serving", zap.String("status", status), zap.Error(err))
	return true
}

func (s *Session) String() string {
	s.mu.Lock()
	n := len(s.libs)
	s.mu.Unlock()
	return "<drawbridge session " + s.id + " libraries=" + strconv.Itoa(n) + ">"
}
