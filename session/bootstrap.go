package session

import (
	"context"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/native"
)

// StartInfo is everything a companion needs to come up and reach back
type StartInfo struct {
	ID           string
	Host         string
	LogLevel     string
	SearchPath   []string
	ControlPort  int
	CallbackPort int
	// CompressThreshold mirrors Config.CompressThreshold
	CompressThreshold int
	RemoteLog         bool
}

// ControlAddr is the address the companion serves on
func (i StartInfo) ControlAddr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.ControlPort))
}

// CallbackAddr is the address of the caller's callback server
func (i StartInfo) CallbackAddr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.CallbackPort))
}

// Bootstrap starts a companion
type Bootstrap interface {
	Start(ctx context.Context, info StartInfo) (Process, error)
}

// Process is a running companion
type Process interface {
	Alive() bool
	// Interrupt asks the companion to stop
	Interrupt() error
	// Kill stops the companion without cooperation
	Kill() error
	// Wait blocks until the companion exited
	Wait() error
}

// InProcess runs the companion on goroutines of the calling process.
// Loader provides the foreign libraries.
type InProcess struct {
	Loader         native.Loader
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
}

func (b *InProcess) Start(ctx context.Context, info StartInfo) (Process, error) {
	srv := NewServer(ServerConfig{
		StartInfo:      info,
		Loader:         b.Loader,
		Logger:         b.Logger,
		TracerProvider: b.TracerProvider,
	})
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	// the companion outlives the context that started it
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &goroutineProcess{srv: srv, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = srv.Serve(runCtx)
	}()
	return p, nil
}

type goroutineProcess struct {
	srv    *Server
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *goroutineProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *goroutineProcess) Interrupt() error {
	p.cancel()
	return nil
}

func (p *goroutineProcess) Kill() error {
	p.cancel()
	return p.srv.Close()
}

func (p *goroutineProcess) Wait() error {
	<-p.done
	return p.err
}

// Exec starts the companion executable at Path. Args are placed before the
// generated flags; Env is appended to the current environment.
type Exec struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func (b *Exec) Start(ctx context.Context, info StartInfo) (Process, error) {
	args := append([]string{}, b.Args...)
	args = append(args,
		"-id", info.ID,
		"-host", info.Host,
		"-control-port", strconv.Itoa(info.ControlPort),
		"-callback-port", strconv.Itoa(info.CallbackPort),
		"-log-level", info.LogLevel,
		"-remote-log="+strconv.FormatBool(info.RemoteLog),
		"-compress-threshold", strconv.Itoa(info.CompressThreshold),
	)
	if len(info.SearchPath) > 0 {
		args = append(args, "-search-path", strings.Join(info.SearchPath, string(os.PathListSeparator)))
	}

	// not bound to ctx: the companion lives until Close
	cmd := exec.Command(b.Path, args...)
	cmd.Dir = b.Dir
	cmd.Env = append(os.Environ(), b.Env...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.PhaseSession, errors.KindNotFound, err, "start companion "+b.Path)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = cmd.Wait()
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	mu   sync.Mutex
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Alive() {
		return nil
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *execProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Alive() {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

// freePort asks the kernel for an unused TCP port on host
func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseSession, errors.KindInvalidInput, err, "allocate port")
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
