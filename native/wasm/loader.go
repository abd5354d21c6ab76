package wasm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/layout"
	"github.com/wippyai/drawbridge/native"
)

// Config holds configuration for the wasm loader
type Config struct {
	// SearchPath lists directories searched for <name>, <name>.wasm and an
	// optional <name>.wit sidecar when a library is not registered.
	SearchPath []string

	// MemoryLimitPages caps each instance's memory in 64KB pages; 0 keeps
	// the wazero default.
	MemoryLimitPages uint32
}

type source struct {
	compiled wazero.CompiledModule
	sigs     map[string]Signature
}

// Loader serves wasm32 modules as foreign libraries. Every Load creates a
// fresh instance with its own linear memory.
type Loader struct {
	runtime wazero.Runtime
	sources map[string]*source
	calc    *layout.Calculator
	cfg     Config
	mu      sync.Mutex
}

// NewLoader creates a loader backed by a new wazero runtime
func NewLoader(ctx context.Context, cfg *Config) *Loader {
	runtimeCfg := wazero.NewRuntimeConfig()
	l := &Loader{
		sources: make(map[string]*source),
		calc:    layout.NewCalculator(ctype.Wasm32),
	}
	if cfg != nil {
		l.cfg = *cfg
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
	}
	l.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return l
}

// Add compiles a module and registers it under name. witText may declare
// the native signatures of its exports; it may be empty.
func (l *Loader) Add(ctx context.Context, name string, wasmBytes []byte, witText string) error {
	compiled, err := l.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errors.Load(fmt.Sprintf("compile %s", name), err)
	}
	sigs := map[string]Signature{}
	if witText != "" {
		sigs, err = ParseSignatures(witText)
		if err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.sources[name] = &source{compiled: compiled, sigs: sigs}
	l.mu.Unlock()

	Logger().Debug("module registered",
		zap.String("library", name),
		zap.Int("exports", len(compiled.ExportedFunctions())),
		zap.Int("signatures", len(sigs)))
	return nil
}

func (l *Loader) lookup(ctx context.Context, name string) (*source, error) {
	l.mu.Lock()
	src, ok := l.sources[name]
	l.mu.Unlock()
	if ok {
		return src, nil
	}

	for _, dir := range l.cfg.SearchPath {
		for _, candidate := range []string{name, name + ".wasm"} {
			path := filepath.Join(dir, candidate)
			wasmBytes, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var witText []byte
			if w, err := os.ReadFile(trimExt(path) + ".wit"); err == nil {
				witText = w
			}
			if err := l.Add(ctx, name, wasmBytes, string(witText)); err != nil {
				return nil, err
			}
			l.mu.Lock()
			src = l.sources[name]
			l.mu.Unlock()
			return src, nil
		}
	}
	return nil, errors.Load(fmt.Sprintf("library %q not found", name), nil)
}

func trimExt(path string) string {
	return path[:len(path)-len(filepath.Ext(path))]
}

func (l *Loader) Load(ctx context.Context, name string, kind ctype.LibraryKind) (native.Library, error) {
	src, err := l.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	mod, err := l.runtime.InstantiateModule(ctx, src.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("instantiate %s", name), err)
	}
	mem, err := newMemory(ctx, mod)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}

	Logger().Debug("library loaded", zap.String("library", name), zap.String("kind", string(kind)))

	return &Library{
		name:     name,
		mod:      mod,
		mem:      mem,
		sigs:     src.sigs,
		calc:     l.calc,
		ordinals: ordinals(src.compiled),
	}, nil
}

// Close releases the runtime and every instance created by the loader
func (l *Loader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// ordinals lists exported function names in function index order
func ordinals(compiled wazero.CompiledModule) []string {
	exports := compiled.ExportedFunctions()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := exports[names[i]].Index(), exports[names[j]].Index()
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}
