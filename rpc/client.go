package rpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/drawbridge/errors"
)

// Client holds one persistent connection to a Server. Calls may be issued
// concurrently; responses are matched by request id.
type Client struct {
	conn     net.Conn
	log      *zap.Logger
	readDone chan struct{}
	readErr  error
	pending  sync.Map // uint32 -> chan frame
	writeMu  sync.Mutex
	nextID   atomic.Uint32
	closed   atomic.Bool
	thresh   int
}

// Dial connects to a server
func Dial(ctx context.Context, addr string, opts *Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.New(errors.PhaseTransport, errors.KindClosed).
			Cause(err).
			Detail("dial %s", addr).
			Build()
	}
	c := &Client{
		conn:     conn,
		log:      opts.logger(),
		readDone: make(chan struct{}),
		thresh:   opts.threshold(),
	}
	go c.readLoop()
	return c, nil
}

// Addr returns the address of the peer
func (c *Client) Addr() string {
	return c.conn.RemoteAddr().String()
}

// Call invokes name on the peer and decodes the result into reply, which
// may be nil to discard it. Errors returned by the remote handler come back
// as *errors.Error with their original phase and kind. ctx only bounds
// sending; once dispatched the call waits for its response or for the
// connection to drop.
func (c *Client) Call(ctx context.Context, name string, reply any, args ...any) error {
	payload, err := c.encode(name, args)
	if err != nil {
		return err
	}

	id := c.nextID.Add(1)
	ch := make(chan frame, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	if err := c.send(ctx, frameRequest, id, payload); err != nil {
		return err
	}

	var f frame
	select {
	case f = <-ch:
	case <-c.readDone:
		// a response may have raced the close
		select {
		case f = <-ch:
		default:
			return c.closedErr(name)
		}
	}

	var resp response
	if err := unmarshal(f.payload, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error.Err()
	}
	if reply == nil || len(resp.Result) == 0 {
		return nil
	}
	return unmarshal(resp.Result, reply)
}

// Notify invokes name without waiting for a response
func (c *Client) Notify(ctx context.Context, name string, args ...any) error {
	payload, err := c.encode(name, args)
	if err != nil {
		return err
	}
	return c.send(ctx, frameNotify, 0, payload)
}

func (c *Client) encode(name string, args []any) ([]byte, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	return marshal(&request{Name: name, Args: raw})
}

func (c *Client) send(ctx context.Context, typ frameType, id uint32, payload []byte) error {
	if c.closed.Load() {
		return c.closedErr("")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindTimeout, err, "call not sent")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(timeZero) }()
	}
	if err := writeFrame(c.conn, typ, id, payload, c.thresh); err != nil {
		return errors.New(errors.PhaseTransport, errors.KindClosed).
			Cause(err).
			Detail("write to %s", c.conn.RemoteAddr()).
			Build()
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		f, err := readFrame(c.conn)
		if err != nil {
			c.readErr = err
			return
		}
		if f.typ != frameResponse {
			c.log.Warn("unexpected frame from server", zap.Uint8("type", uint8(f.typ)))
			continue
		}
		if ch, ok := c.pending.Load(f.id); ok {
			ch.(chan frame) <- f
		}
	}
}

func (c *Client) closedErr(name string) error {
	b := errors.New(errors.PhaseTransport, errors.KindClosed)
	if !c.closed.Load() && c.readErr != nil {
		b = b.Cause(c.readErr)
	}
	if name != "" {
		return b.Detail("connection lost during call to %s", name).Build()
	}
	return b.Detail("connection closed").Build()
}

// Done is closed when the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.readDone
}

// Close closes the connection. Pending calls fail with a closed error.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
