package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/codec"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/errors"
)

// Library is a library loaded in the companion
type Library struct {
	session  *Session
	builder  *definition.Builder
	log      *zap.Logger
	routines map[string]*Routine
	name     string
	hash     string
	kind     ctype.LibraryKind
	abi      ctype.ABI
	mu       sync.Mutex
}

func (l *Library) Name() string            { return l.name }
func (l *Library) Hash() string            { return l.hash }
func (l *Library) Kind() ctype.LibraryKind { return l.kind }

// ABI is the data model of the companion that loaded the library
func (l *Library) ABI() ctype.ABI { return l.abi }

// Routine attaches to a routine by name. The companion resolves the symbol
// right away, so a missing routine fails here rather than on first call.
func (l *Library) Routine(ctx context.Context, name string) (*Routine, error) {
	if err := l.session.checkOpen(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if r, ok := l.routines[name]; ok {
		l.mu.Unlock()
		return r, nil
	}
	l.mu.Unlock()

	if err := l.session.client.Call(ctx, l.hash+"_register", nil, name); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.routines[name]; ok {
		return r, nil
	}
	result := ctype.Int
	if l.kind == ctype.OleDLL {
		result = ctype.HResult
	}
	r := &Routine{lib: l, name: name, result: result}
	l.routines[name] = r
	l.log.Debug("routine attached", zap.String("routine", name))
	return r, nil
}

// Ordinal attaches to a routine by its export ordinal
func (l *Library) Ordinal(ctx context.Context, n int) (*Routine, error) {
	return l.Routine(ctx, strconv.Itoa(n))
}

// Export is a routine a library declares. Declared is false when the
// library lists the routine without its signature.
type Export struct {
	Result   ctype.Type
	Name     string
	Args     []ctype.Type
	Declared bool
}

// Exports lists the library's routines in ordinal order
func (l *Library) Exports(ctx context.Context) ([]Export, error) {
	var infos []exportInfo
	if err := l.session.client.Call(ctx, l.hash+"_exports", &infos); err != nil {
		return nil, err
	}
	out := make([]Export, len(infos))
	for i, info := range infos {
		out[i].Name = info.Name
		if info.Signature == nil {
			continue
		}
		d, err := l.builder.FromWire(info.Signature)
		if err != nil {
			return nil, err
		}
		fn, ok := d.(*definition.Func)
		if !ok {
			return nil, errors.New(errors.PhaseDefinition, errors.KindGroup).
				Detail("signature of %s is a %s definition", info.Name, d.Group()).
				Build()
		}
		for _, a := range fn.Args {
			out[i].Args = append(out[i].Args, a.Type())
		}
		if fn.Result != nil {
			out[i].Result = fn.Result.Type()
		}
		out[i].Declared = true
	}
	return out, nil
}

// Repr returns the companion's description of the library
func (l *Library) Repr(ctx context.Context) (string, error) {
	var s string
	err := l.session.client.Call(ctx, l.hash+"_repr", &s)
	return s, err
}

func (l *Library) String() string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := l.Repr(ctx)
	if err != nil {
		return fmt.Sprintf("<library '%s' hash %s unreachable>", l.name, l.hash)
	}
	return s
}

// Routine is a foreign routine. Its types may be changed until the first
// call configures it with the companion; afterwards they are fixed.
type Routine struct {
	lib     *Library
	result  ctype.Type
	sig     *codec.Signature
	name    string
	args    []ctype.Type
	memsync []ctype.Memsync
	mu      sync.Mutex
	typed   bool
}

func (r *Routine) Name() string { return r.name }

// Configured reports whether the routine's types are fixed
func (r *Routine) Configured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sig != nil
}

func (r *Routine) configured() error {
	if r.sig != nil {
		return errors.New(errors.PhaseDefinition, errors.KindInvalidInput).
			Detail("routine %s is already configured", r.name).
			Build()
	}
	return nil
}

// SetArgTypes declares the argument types. Without them arguments pass
// through untyped.
func (r *Routine) SetArgTypes(types ...ctype.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.configured(); err != nil {
		return err
	}
	r.args = types
	r.typed = true
	return nil
}

// SetResType declares the result type; nil means void. The default is int
// (HRESULT for OleDLL libraries).
func (r *Routine) SetResType(t ctype.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.configured(); err != nil {
		return err
	}
	r.result = t
	return nil
}

// SetMemsync declares the pointers whose memory travels with each call
func (r *Routine) SetMemsync(ms ...ctype.Memsync) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.configured(); err != nil {
		return err
	}
	r.memsync = ms
	return nil
}

// Signature configures the routine if needed and returns its signature
func (r *Routine) Signature(ctx context.Context) (*codec.Signature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sig != nil {
		return r.sig, nil
	}

	fn, err := r.lib.builder.Routine(r.args, r.result, r.lib.kind.Convention(), r.memsync)
	if err != nil {
		return nil, err
	}
	if err := r.lib.session.client.Call(ctx, routineFunc(r.lib.hash, r.name, "configure"), nil, fn.Wire(), r.typed); err != nil {
		return nil, err
	}
	sig := codec.NewSignature(r.name, fn, r.lib.kind.Variadic())
	sig.Typed = r.typed
	r.sig = sig
	r.lib.log.Debug("routine configured",
		zap.String("routine", r.name),
		zap.String("type", fn.TypeName()),
		zap.Int("memsyncs", len(fn.Memsyncs)))
	return sig, nil
}

// Call invokes the routine in the companion. By-reference arguments,
// arrays and struct fields are updated in place from the callee's view
// even when the call fails.
func (r *Routine) Call(ctx context.Context, args ...any) (any, error) {
	s := r.lib.session
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	sig, err := r.Signature(ctx)
	if err != nil {
		return nil, err
	}
	name := routineFunc(r.lib.hash, r.name, "handle_call")
	invoke := func(ctx context.Context, req *codec.Request) (*codec.Envelope, error) {
		var env codec.Envelope
		if err := s.client.Call(ctx, name, &env, req); err != nil {
			return nil, err
		}
		return &env, nil
	}
	return s.codec.Call(ctx, sig, s.side, invoke, args)
}
