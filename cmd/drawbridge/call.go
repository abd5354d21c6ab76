package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/native/wasm"
	"github.com/wippyai/drawbridge/session"
)

// open starts a session and loads the library. Without a companion
// executable the wasm loader runs in this process.
func open(ctx context.Context, o options) (*session.Session, *session.Library, error) {
	var paths []string
	if o.config != "" {
		paths = []string{o.config}
	}
	cfg, err := session.LoadConfig(paths...)
	if err != nil {
		return nil, nil, err
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, err
	}
	cfg.Logger = log

	if o.companion != "" {
		cfg.Companion = o.companion
	} else if cfg.Companion == "" {
		loader := wasm.NewLoader(ctx, &wasm.Config{SearchPath: append(cfg.SearchPath, filepath.Dir(o.lib))})
		cfg.Bootstrap = &session.InProcess{Loader: loader, Logger: log}
	}

	sess, err := session.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	lib, err := sess.Load(ctx, trimLib(o.lib), ctype.LibraryKind(o.kind))
	if err != nil {
		sess.Close(context.Background())
		return nil, nil, err
	}
	return sess, lib, nil
}

func trimLib(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".wasm")
}

// lookupExport finds a routine by name or ordinal. Unknown routines get an
// empty undeclared export.
func lookupExport(exports []session.Export, fn string) session.Export {
	if n, err := strconv.Atoi(fn); err == nil && n >= 1 && n <= len(exports) {
		return exports[n-1]
	}
	for _, e := range exports {
		if e.Name == fn {
			return e
		}
	}
	return session.Export{Name: fn}
}

func overrideTypes(e session.Export, argTypes, resType string) (session.Export, error) {
	if argTypes != "" {
		e.Args = nil
		for _, name := range strings.Split(argTypes, ",") {
			s, ok := ctype.ScalarByName(strings.TrimSpace(name))
			if !ok {
				return e, fmt.Errorf("unknown type %q", name)
			}
			e.Args = append(e.Args, s)
		}
	}
	if resType != "" {
		s, ok := ctype.ScalarByName(resType)
		if !ok {
			return e, fmt.Errorf("unknown type %q", resType)
		}
		e.Result = s
	}
	e.Declared = true
	return e, nil
}

// call attaches to the routine, applies the export's types on first use
// and converts the textual arguments with them.
func call(ctx context.Context, lib *session.Library, fn string, e session.Export, raw []string) (any, error) {
	r, err := lib.Routine(ctx, fn)
	if err != nil {
		return nil, err
	}
	if e.Declared && !r.Configured() {
		if err := r.SetArgTypes(e.Args...); err != nil {
			return nil, err
		}
		if e.Result != nil {
			if err := r.SetResType(e.Result); err != nil {
				return nil, err
			}
		}
	}

	args := make([]any, len(raw))
	for i, s := range raw {
		var t ctype.Type
		if i < len(e.Args) {
			t = e.Args[i]
		}
		v, err := convertArg(strings.TrimSpace(s), t)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		args[i] = v
	}
	return r.Call(ctx, args...)
}

// convertArg parses a textual argument for its native type. Untyped
// arguments are passed as integers when they parse as one.
func convertArg(value string, t ctype.Type) (any, error) {
	s, ok := t.(*ctype.Scalar)
	if !ok {
		if n, err := strconv.ParseInt(value, 0, 64); err == nil {
			return n, nil
		}
		return value, nil
	}
	switch s.Class() {
	case ctype.ClassBool:
		return value == "true" || value == "1", nil
	case ctype.ClassSigned:
		return strconv.ParseInt(value, 0, 64)
	case ctype.ClassUnsigned, ctype.ClassAddress:
		return strconv.ParseUint(value, 0, 64)
	case ctype.ClassFloat:
		return strconv.ParseFloat(value, 64)
	default:
		return value, nil
	}
}

func typeStr(t ctype.Type) string {
	if t == nil {
		return "void"
	}
	return t.String()
}

func formatExport(e session.Export) string {
	if !e.Declared {
		return e.Name + "(?)"
	}
	params := make([]string, len(e.Args))
	for i, a := range e.Args {
		params[i] = typeStr(a)
	}
	return fmt.Sprintf("%s(%s) -> %s", e.Name, strings.Join(params, ", "), typeStr(e.Result))
}
