package codec

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/mempkg"
	"github.com/wippyai/drawbridge/native"
)

// Request carries packed arguments and memory packages to the callee
type Request struct {
	Args    []any          `msgpack:"args"`
	Mempkgs []*mempkg.Wire `msgpack:"mempkgs"`
}

// Envelope is the callee's answer. A failed call still carries arguments and
// memory packages so partial results reach the caller.
type Envelope struct {
	Retval    any            `msgpack:"retval"`
	Exception *errors.Wire   `msgpack:"exception"`
	Args      []any          `msgpack:"args"`
	Mempkgs   []*mempkg.Wire `msgpack:"mempkgs"`
	Success   bool           `msgpack:"success"`
}

// Invoker sends a request to the callee and waits for its envelope
type Invoker func(ctx context.Context, req *Request) (*Envelope, error)

// Call runs the caller half of a forwarded call. args are the caller's own
// values; by-reference arguments and memsync buffers are updated in place
// even when the callee reports a failure, which is returned afterwards.
func (c *Codec) Call(ctx context.Context, sig *Signature, side *definition.Side, invoke Invoker, args []any) (any, error) {
	packed, err := c.PackArgs(args, sig)
	if err != nil {
		return nil, err
	}

	req := &Request{Args: packed, Mempkgs: make([]*mempkg.Wire, len(sig.Memsyncs))}
	for i, m := range sig.Memsyncs {
		pkg, err := m.Pkg(side, args, nil)
		if err != nil {
			return nil, err
		}
		req.Mempkgs[i] = pkg.Packed()
	}

	env, err := invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	// a call that failed before the routine ran carries no results
	if env.Args != nil {
		updated, err := c.UnpackArgs(env.Args, sig)
		if err != nil {
			return nil, err
		}
		c.SyncArgs(args, updated, sig)
	}

	var retval any
	if env.Success {
		if retval, err = c.UnpackRetval(env.Retval, sig.Result); err != nil {
			return nil, err
		}
	}

	if env.Mempkgs != nil {
		if len(env.Mempkgs) != len(sig.Memsyncs) {
			return nil, errors.New(errors.PhaseMemsync, errors.KindProtocol).
				Detail("%d memory packages for %d memsyncs", len(env.Mempkgs), len(sig.Memsyncs)).
				Build()
		}
		wchar := side.ABI().WCharSize
		for i, m := range sig.Memsyncs {
			pkg := mempkg.FromPacked(env.Mempkgs[i], wchar)
			if err := m.UnpkgCaller(side, pkg, args, &retval); err != nil {
				return nil, err
			}
		}
	}

	if !env.Success {
		if env.Exception == nil {
			return nil, errors.New(errors.PhaseCall, errors.KindForeign).Detail("call failed without an exception").Build()
		}
		return nil, env.Exception.Err()
	}
	return retval, nil
}

// Serve runs the callee half of a forwarded call. It never returns an error:
// every failure, including a panic in fn, is reported in the envelope.
func (c *Codec) Serve(ctx context.Context, sig *Signature, side *definition.Side, fn native.Func, req *Request) (env *Envelope) {
	env = &Envelope{}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic while serving call",
				zap.String("routine", sig.Name),
				zap.Any("panic", r))
			env.Success = false
			env.Exception = errors.ToWire(errors.New(errors.PhaseCall, errors.KindForeign).
				GoType(fmt.Sprintf("%T", r)).
				Detail("panic: %v", r).
				Build())
		}
	}()

	args, err := c.UnpackArgs(req.Args, sig)
	if err != nil {
		return c.fail(sig, env, err)
	}
	if len(req.Mempkgs) != len(sig.Memsyncs) {
		return c.fail(sig, env, errors.New(errors.PhaseMemsync, errors.KindProtocol).
			Detail("%d memory packages for %d memsyncs", len(req.Mempkgs), len(sig.Memsyncs)).
			Build())
	}

	owned := native.NewAllocations()
	defer owned.Release(side.Space)

	wchar := side.ABI().WCharSize
	pkgs := make([]*mempkg.Mempkg, len(sig.Memsyncs))
	for i, m := range sig.Memsyncs {
		pkgs[i] = mempkg.FromPacked(req.Mempkgs[i], wchar)
		if err := m.UnpkgCallee(side, pkgs[i], args, owned); err != nil {
			return c.fail(sig, env, err)
		}
	}

	retval, callErr := fn(ctx, args)

	for i, m := range sig.Memsyncs {
		if err := m.Update(side, pkgs[i], args, retval); err != nil {
			return c.fail(sig, env, err)
		}
	}

	if env.Args, err = c.PackArgs(args, sig); err != nil {
		return c.fail(sig, env, err)
	}
	if callErr == nil {
		if env.Retval, err = c.PackRetval(retval, sig.Result); err != nil {
			return c.fail(sig, env, err)
		}
	}
	env.Mempkgs = make([]*mempkg.Wire, len(pkgs))
	for i, p := range pkgs {
		env.Mempkgs[i] = p.Packed()
	}

	if callErr != nil {
		c.log.Debug("routine raised",
			zap.String("routine", sig.Name),
			zap.Error(callErr))
		env.Exception = errors.ToWire(callErr)
		return env
	}
	env.Success = true
	return env
}

// fail reports an error raised before the routine produced results. The
// caller receives its own arguments back unchanged.
func (c *Codec) fail(sig *Signature, env *Envelope, err error) *Envelope {
	c.log.Debug("call failed in codec",
		zap.String("routine", sig.Name),
		zap.Error(err))
	env.Success = false
	env.Exception = errors.ToWire(err)
	return env
}
