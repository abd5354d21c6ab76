package rpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/wippyai/drawbridge/rpc"

// TracingHook starts a server span around every dispatched request
type TracingHook struct {
	tracer trace.Tracer
}

// NewTracingHook creates a hook using tp, or the global provider when nil
func NewTracingHook(tp trace.TracerProvider) *TracingHook {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingHook{tracer: tp.Tracer(instrumentationName)}
}

type spanToken struct {
	span  trace.Span
	start time.Time
}

func (h *TracingHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	ctx, span := h.tracer.Start(ctx, "drawbridge/"+info.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "drawbridge"),
			attribute.String("rpc.method", info.Method),
			attribute.String("rpc.drawbridge.server_id", info.ServerID),
			attribute.Int64("rpc.drawbridge.request_id", int64(info.RequestID)),
			attribute.String("net.peer.addr", info.RemoteAddr),
		),
	)
	return ctx, &spanToken{span: span, start: time.Now()}
}

func (h *TracingHook) OnDispatchEnd(_ context.Context, token HookToken, _ DispatchInfo, stats *CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	defer st.span.End()

	if !st.span.IsRecording() {
		return
	}
	st.span.SetAttributes(attribute.Float64("rpc.drawbridge.duration_seconds", time.Since(st.start).Seconds()))
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("rpc.drawbridge.input_bytes", stats.InputBytes),
			attribute.Int64("rpc.drawbridge.output_bytes", stats.OutputBytes),
			attribute.Int("rpc.drawbridge.args", stats.Args),
		)
	}
	if err != nil {
		st.span.RecordError(err)
		st.span.SetStatus(codes.Error, err.Error())
		return
	}
	st.span.SetStatus(codes.Ok, "")
}
