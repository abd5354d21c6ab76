package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/errors"
)

var timeZero time.Time

// StatusFunc is the liveness check every drawbridge server registers
const StatusFunc = "get_status"

// StatusUp is the status a ready server reports
const StatusUp = "up"

// RetryOptions configure ConnectWithRetry
type RetryOptions struct {
	Options *Options
	// Interval between attempts, 10ms when zero
	Interval time.Duration
	// Timeout for the whole attempt, 30s when zero
	Timeout time.Duration
}

// ConnectWithRetry dials addr and polls get_status until the server
// reports it is up. It fails with a timeout error when the server does not
// come up in time.
func ConnectWithRetry(ctx context.Context, addr string, opts RetryOptions) (*Client, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Options.logger()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		c, err := dialStatus(ctx, addr, opts.Options)
		if err == nil {
			log.Debug("connected", zap.String("addr", addr), zap.Int("attempts", attempt))
			return c, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Timeout(errors.PhaseTransport, "server at "+addr+" did not come up in "+timeout.String(), lastErr)
		case <-ticker.C:
		}
	}
}

func dialStatus(ctx context.Context, addr string, opts *Options) (*Client, error) {
	c, err := Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	// Call does not watch ctx once sent; a server that accepts but never
	// answers would otherwise hold bring-up past its timeout.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	var status string
	err = c.Call(ctx, StatusFunc, &status)
	if !stop() {
		_ = c.Close()
		return nil, errors.Timeout(errors.PhaseTransport, "status of "+addr, ctx.Err())
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if status != StatusUp {
		_ = c.Close()
		return nil, errors.New(errors.PhaseTransport, errors.KindProtocol).
			Detail("server status %q", status).
			Build()
	}
	return c, nil
}
