// Package rpc is the message substrate between the two sides of a bridge.
//
// A Server dispatches named functions; a Client keeps one persistent TCP
// connection and blocks per call. Requests are (name, args, kwargs)
// envelopes encoded with msgpack, and frames larger than a threshold are
// compressed with zstd. Handler errors and panics are returned to the caller
// as values and rebuilt there as *errors.Error, so a failing function never
// breaks the connection. Transport failures are reported with phase
// transport and kind closed.
//
//	srv := rpc.NewServer(nil)
//	srv.Register("add", func(ctx context.Context, args rpc.Args) (any, error) {
//		var a, b int64
//		if err := args.Decode(0, &a); err != nil {
//			return nil, err
//		}
//		if err := args.Decode(1, &b); err != nil {
//			return nil, err
//		}
//		return a + b, nil
//	})
//	_ = srv.Listen("127.0.0.1:0")
//	go srv.Serve(ctx)
//
//	c, _ := rpc.Dial(ctx, srv.Addr().String(), nil)
//	var sum int64
//	err := c.Call(ctx, "add", &sum, 2, 3)
package rpc
