package session

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/drawbridge/rpc"
)

// logFunc is the callback-channel function companion log entries go to
const logFunc = "log"

// LogEntry is one forwarded companion log entry
type LogEntry struct {
	Fields  map[string]any `msgpack:"fields,omitempty"`
	Level   string         `msgpack:"level"`
	Logger  string         `msgpack:"logger,omitempty"`
	Message string         `msgpack:"message"`
	Caller  string         `msgpack:"caller,omitempty"`
	Time    int64          `msgpack:"time"`
}

// remoteCore ships entries to the caller as notifications
type remoteCore struct {
	zapcore.LevelEnabler
	peer    *rpc.Client
	enabled *atomic.Bool
	fields  []zapcore.Field
}

func newRemoteCore(peer *rpc.Client, level zapcore.LevelEnabler, enabled *atomic.Bool) *remoteCore {
	return &remoteCore{LevelEnabler: level, peer: peer, enabled: enabled}
}

func (c *remoteCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(c.fields[:len(c.fields):len(c.fields)], fields...)
	return &clone
}

func (c *remoteCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.enabled.Load() && c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *remoteCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	entry := &LogEntry{
		Level:   e.Level.String(),
		Logger:  e.LoggerName,
		Message: e.Message,
		Time:    e.Time.UnixNano(),
	}
	if e.Caller.Defined {
		entry.Caller = e.Caller.TrimmedPath()
	}
	if len(enc.Fields) > 0 {
		entry.Fields = enc.Fields
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.peer.Notify(ctx, logFunc, entry)
}

func (c *remoteCore) Sync() error { return nil }

// logHandler writes forwarded entries to log, tagged side=companion
func logHandler(log *zap.Logger) rpc.Handler {
	log = log.Named("companion")
	return func(_ context.Context, args rpc.Args) (any, error) {
		var e LogEntry
		if err := args.Decode(0, &e); err != nil {
			return nil, err
		}
		lvl, err := zapcore.ParseLevel(e.Level)
		if err != nil {
			lvl = zapcore.InfoLevel
		}
		// a companion panic must not take the caller down
		lvl = min(lvl, zapcore.ErrorLevel)
		ce := log.Check(lvl, e.Message)
		if ce == nil {
			return nil, nil
		}
		ce.Time = time.Unix(0, e.Time)

		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]zap.Field, 0, len(keys)+2)
		fields = append(fields, zap.String("side", "companion"))
		if e.Logger != "" {
			fields = append(fields, zap.String("origin", e.Logger))
		}
		for _, k := range keys {
			fields = append(fields, zap.Any(k, e.Fields[k]))
		}
		ce.Write(fields...)
		return nil, nil
	}
}
