package rpc

import "context"

// DispatchHook observes every request a Server dispatches.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is returned by OnDispatchStart and handed back to OnDispatchEnd
type HookToken any

// DispatchInfo describes one dispatched request
type DispatchInfo struct {
	Method     string
	ServerID   string
	RemoteAddr string
	RequestID  uint32
}

// CallStatistics holds the payload sizes of one request
type CallStatistics struct {
	InputBytes  int64
	OutputBytes int64
	Args        int
}

type hooks []DispatchHook

func (h hooks) start(ctx context.Context, info DispatchInfo) (context.Context, []HookToken) {
	tokens := make([]HookToken, len(h))
	for i, hook := range h {
		ctx, tokens[i] = hook.OnDispatchStart(ctx, info)
	}
	return ctx, tokens
}

func (h hooks) end(ctx context.Context, tokens []HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	for i := len(h) - 1; i >= 0; i-- {
		h[i].OnDispatchEnd(ctx, tokens[i], info, stats, err)
	}
}
