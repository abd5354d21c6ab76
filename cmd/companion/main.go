// Command companion hosts foreign libraries for a drawbridge session. The
// session starts it with the ports to use; it is not meant to be run by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/drawbridge/native/wasm"
	"github.com/wippyai/drawbridge/rpc"
	"github.com/wippyai/drawbridge/session"
)

func main() {
	var (
		id           = flag.String("id", "", "Session id")
		host         = flag.String("host", "127.0.0.1", "Interface both channels use")
		controlPort  = flag.Int("control-port", 0, "Port to serve the control channel on")
		callbackPort = flag.Int("callback-port", 0, "Port of the caller's callback channel")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		remoteLog    = flag.Bool("remote-log", true, "Forward log entries to the caller")
		threshold    = flag.Int("compress-threshold", 0, "Payload size above which frames are compressed")
		searchPath   = flag.String("search-path", "", "Directories to look for libraries in")
		memoryPages  = flag.Uint("memory-pages", 0, "Memory limit per library in 64KB pages")
	)
	flag.Parse()

	if *controlPort == 0 || *callbackPort == 0 {
		fmt.Fprintln(os.Stderr, "Usage: companion -control-port <port> -callback-port <port> [-id id] [-search-path dirs]")
		os.Exit(1)
	}

	info := session.StartInfo{
		ID:                *id,
		Host:              *host,
		LogLevel:          *logLevel,
		ControlPort:       *controlPort,
		CallbackPort:      *callbackPort,
		CompressThreshold: *threshold,
		RemoteLog:         *remoteLog,
	}
	if *searchPath != "" {
		info.SearchPath = filepath.SplitList(*searchPath)
	}

	if err := run(info, uint32(*memoryPages)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(info session.StartInfo, memoryPages uint32) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger(info.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	wasm.SetLogger(log.Named("wasm"))
	rpc.SetLogger(log.Named("rpc"))

	loader := wasm.NewLoader(ctx, &wasm.Config{SearchPath: info.SearchPath, MemoryLimitPages: memoryPages})
	defer loader.Close(context.Background())

	srv := session.NewServer(session.ServerConfig{StartInfo: info, Loader: loader, Logger: log})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// newLogger writes JSON entries to stderr; the caller sees them through the
// remote log as well.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.InitialFields = map[string]any{"side": "companion"}
	return cfg.Build()
}
