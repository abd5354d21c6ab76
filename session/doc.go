// Package session connects a calling process to a companion process that
// hosts foreign libraries.
//
// A Session starts the companion through a Bootstrap, then talks to it over
// two rpc channels: the control channel carries library loads and routine
// calls from the caller, the callback channel carries callback invocations
// and forwarded log entries back. A routine negotiates its types with the
// companion on first call and reuses them afterwards:
//
//	s, err := session.New(ctx, cfg)
//	lib, err := s.CDLL(ctx, "demo")
//	divide, err := lib.Routine(ctx, "divide")
//	divide.SetArgTypes(ctype.Int, ctype.Int, ctype.PointerTo(ctype.Int))
//	rem := native.Ref(int64(0))
//	q, err := divide.Call(ctx, int64(11), int64(3), rem)
//
// The companion side is Server. cmd/companion runs one in its own process;
// InProcess runs one on goroutines, which is what tests use.
package session
