package rpc

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/drawbridge/errors"
)

type recordingHook struct {
	mu    sync.Mutex
	ended []string
	errs  int
}

func (h *recordingHook) OnDispatchStart(ctx context.Context, _ DispatchInfo) (context.Context, HookToken) {
	return ctx, nil
}

func (h *recordingHook) OnDispatchEnd(_ context.Context, _ HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = append(h.ended, info.Method)
	if err != nil {
		h.errs++
	}
}

func startServer(t *testing.T, opts *Options) *Server {
	t.Helper()
	s := NewServer(opts)
	s.Register(StatusFunc, func(context.Context, Args) (any, error) { return StatusUp, nil })
	s.Register("add", func(_ context.Context, args Args) (any, error) {
		var a, b int64
		if err := args.Decode(0, &a); err != nil {
			return nil, err
		}
		if err := args.Decode(1, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})
	s.Register("echo", func(_ context.Context, args Args) (any, error) {
		var b []byte
		err := args.Decode(0, &b)
		return b, err
	})
	s.Register("fail", func(context.Context, Args) (any, error) {
		return nil, errors.New(errors.PhaseCodec, errors.KindArgCount).Detail("got 3 arguments, want 2").Build()
	})
	s.Register("panic", func(context.Context, Args) (any, error) { panic("boom") })

	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Serve(ctx) }()
	t.Cleanup(cancel)
	return s
}

func dial(t *testing.T, s *Server, opts *Options) *Client {
	t.Helper()
	c, err := Dial(context.Background(), s.Addr().String(), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Call(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s, nil)

	var sum int64
	if err := c.Call(context.Background(), "add", &sum, 2, 40); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sum != 42 {
		t.Errorf("sum = %d", sum)
	}
	if err := c.Call(context.Background(), "add", nil, 1, 1); err != nil {
		t.Errorf("discarded reply: %v", err)
	}
}

func TestClient_RemoteErrors(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		phase errors.Phase
		kind  errors.Kind
	}{
		{"fail", errors.PhaseCodec, errors.KindArgCount},
		{"panic", errors.PhaseTransport, errors.KindRemote},
		{"missing", errors.PhaseTransport, errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Call(ctx, tt.name, nil)
			if !errors.Is(err, &errors.Error{Phase: tt.phase, Kind: tt.kind}) {
				t.Errorf("got %v, want %s/%s", err, tt.phase, tt.kind)
			}
		})
	}

	// the connection survives handler failures
	var sum int64
	if err := c.Call(ctx, "add", &sum, 1, 2); err != nil || sum != 3 {
		t.Errorf("after failures: %d, %v", sum, err)
	}
}

func TestClient_LargePayloadCompressed(t *testing.T) {
	s := startServer(t, &Options{CompressThreshold: 1024})
	c := dial(t, s, &Options{CompressThreshold: 1024})

	in := bytes.Repeat([]byte("drawbridge "), 50_000)
	var out []byte
	if err := c.Call(context.Background(), "echo", &out, in); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Errorf("echo returned %d bytes, want %d", len(out), len(in))
	}
}

func TestFrame_Compression(t *testing.T) {
	payload := bytes.Repeat([]byte{7}, 4096)
	var buf bytes.Buffer
	if err := writeFrame(&buf, frameRequest, 9, payload, 100); err != nil {
		t.Fatal(err)
	}
	if buf.Len() >= len(payload) {
		t.Errorf("frame of %d bytes was not compressed", buf.Len())
	}
	f, err := readFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if f.typ != frameRequest || f.id != 9 || !bytes.Equal(f.payload, payload) {
		t.Errorf("frame = type %d id %d len %d", f.typ, f.id, len(f.payload))
	}

	tests := []struct {
		name string
		data []byte
		kind errors.Kind
	}{
		{"empty", nil, errors.KindClosed},
		{"short header", []byte{0, 0, 0, 1, 1}, errors.KindProtocol},
		{"short payload", []byte{0, 0, 0, 9, 1, 0, 0, 0, 1, 'a', 'b'}, errors.KindProtocol},
		{"missing payload", []byte{0, 0, 0, 9, 1, 0, 0, 0, 1}, errors.KindProtocol},
		{"bad length", []byte{0, 0, 0, 2, 1, 0, 0, 0, 1}, errors.KindProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readFrame(bytes.NewReader(tt.data))
			if !errors.Is(err, &errors.Error{Phase: errors.PhaseTransport, Kind: tt.kind}) {
				t.Errorf("got %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestClient_Concurrent(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var sum int64
			if err := c.Call(context.Background(), "add", &sum, i, i); err != nil {
				errs <- err
				return
			}
			if sum != int64(2*i) {
				errs <- errors.InvalidInput(errors.PhaseTransport, "wrong sum")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestServer_NestedCallDoesNotBlock(t *testing.T) {
	s := startServer(t, nil)
	inner := dial(t, s, nil)
	s.Register("outer", func(ctx context.Context, _ Args) (any, error) {
		var sum int64
		err := inner.Call(ctx, "add", &sum, 20, 22)
		return sum, err
	})

	c := dial(t, s, nil)
	var got int64
	if err := c.Call(context.Background(), "outer", &got); err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("got %d", got)
	}
}

func TestNotify(t *testing.T) {
	s := startServer(t, nil)
	got := make(chan string, 1)
	s.Register("log", func(_ context.Context, args Args) (any, error) {
		msg, err := args.String(0)
		got <- msg
		return nil, err
	})
	c := dial(t, s, nil)
	if err := c.Notify(context.Background(), "log", "hello"); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-got:
		if msg != "hello" {
			t.Errorf("msg = %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestDispatchHook(t *testing.T) {
	hook := &recordingHook{}
	s := startServer(t, &Options{Hooks: []DispatchHook{hook, NewTracingHook(nil)}})
	c := dial(t, s, nil)

	_ = c.Call(context.Background(), "add", nil, 1, 2)
	_ = c.Call(context.Background(), "fail", nil)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if strings.Join(hook.ended, ",") != "add,fail" || hook.errs != 1 {
		t.Errorf("hook saw %v with %d errors", hook.ended, hook.errs)
	}
}

func TestClient_ServerGone(t *testing.T) {
	s := startServer(t, nil)
	s.Register("hang", func(ctx context.Context, _ Args) (any, error) {
		_ = s.Close()
		return nil, nil
	})
	c := dial(t, s, nil)
	err := c.Call(context.Background(), "hang", nil)
	if err == nil {
		// the response may win the race against the close; the next call cannot
		err = c.Call(context.Background(), "add", nil, 1, 1)
	}
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseTransport, Kind: errors.KindClosed}) {
		t.Errorf("got %v, want closed", err)
	}
}

type flakyListener struct {
	net.Listener
	mu    sync.Mutex
	fails int
	at    []time.Time
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.at = append(l.at, time.Now())
	fail := len(l.at) <= l.fails
	l.mu.Unlock()
	if fail {
		return nil, errors.New(errors.PhaseTransport, errors.KindClosed).Detail("too many open files").Build()
	}
	return l.Listener.Accept()
}

func TestAcceptBackoff(t *testing.T) {
	tests := []struct {
		prev, want time.Duration
	}{
		{0, 5 * time.Millisecond},
		{5 * time.Millisecond, 10 * time.Millisecond},
		{600 * time.Millisecond, time.Second},
		{time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := acceptBackoff(tt.prev); got != tt.want {
			t.Errorf("acceptBackoff(%v) = %v, want %v", tt.prev, got, tt.want)
		}
	}
}

func TestServer_AcceptErrorsBackOff(t *testing.T) {
	s := NewServer(nil)
	s.Register("add", func(_ context.Context, args Args) (any, error) {
		var a, b int64
		if err := args.Decode(0, &a); err != nil {
			return nil, err
		}
		if err := args.Decode(1, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	flaky := &flakyListener{Listener: s.listener, fails: 3}
	s.listener = flaky
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Serve(ctx) }()

	c := dial(t, s, nil)
	var sum int64
	if err := c.Call(context.Background(), "add", &sum, 1, 2); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sum != 3 {
		t.Errorf("sum = %d", sum)
	}

	flaky.mu.Lock()
	defer flaky.mu.Unlock()
	if len(flaky.at) < 4 {
		t.Fatalf("accept ran %d times, want at least 4", len(flaky.at))
	}
	// 5ms, 10ms and 20ms between the failed attempts
	if gap := flaky.at[3].Sub(flaky.at[0]); gap < 35*time.Millisecond {
		t.Errorf("failed accepts retried after %v, want at least 35ms", gap)
	}
}

func TestConnectWithRetry(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	s := NewServer(nil)
	s.Register(StatusFunc, func(context.Context, Args) (any, error) { return StatusUp, nil })
	go func() {
		time.Sleep(50 * time.Millisecond)
		if err := s.Listen(addr); err != nil {
			return
		}
		_ = s.Serve(context.Background())
	}()
	t.Cleanup(func() { _ = s.Close() })

	c, err := ConnectWithRetry(context.Background(), addr, RetryOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("ConnectWithRetry: %v", err)
	}
	_ = c.Close()
}

func TestConnectWithRetry_UnansweredStatus(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	s := NewServer(nil)
	s.Register(StatusFunc, func(ctx context.Context, _ Args) (any, error) {
		<-block
		return StatusUp, nil
	})
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	go func() { _ = s.Serve(context.Background()) }()
	t.Cleanup(func() { _ = s.Close() })

	start := time.Now()
	_, err := ConnectWithRetry(context.Background(), s.Addr().String(), RetryOptions{Timeout: 200 * time.Millisecond})
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseTransport, Kind: errors.KindTimeout}) {
		t.Errorf("got %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("returned after %v", elapsed)
	}
}

func TestConnectWithRetry_Timeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	start := time.Now()
	_, err = ConnectWithRetry(context.Background(), addr, RetryOptions{Timeout: 100 * time.Millisecond})
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseTransport, Kind: errors.KindTimeout}) {
		t.Errorf("got %v, want timeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retry did not respect its timeout")
	}
}
