package otel

import (
	"context"
	"sync"

	eventbus "github.com/mpxgo/mpx/internal/eventbus"
	events "github.com/mpxgo/mpx/internal/events"
	opid "github.com/mpxgo/mpx/internal/opid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("mpx")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer      trace.Tracer
	sessionSpan sync.Map // singleton slot -> trace.Span
	spawnSpans  sync.Map // opid -> trace.Span
	attachSpans sync.Map // opid -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.SessionStart) {
		_, span := s.tracer.Start(ctx, "mpx.session")
		span.SetAttributes(attribute.String("mpx.thread_support", e.ThreadSupport))
		s.sessionSpan.Store(0, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.SessionFinish) {
		v, ok := s.sessionSpan.LoadAndDelete(0)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.SpawnStart) {
		id, _ := opid.FromContext(ctx)
		parent := ctx
		if v, ok := s.sessionSpan.Load(0); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "mpx.spawn")
		span.SetAttributes(
			attribute.StringSlice("mpx.spawn.commands", e.Commands),
			attribute.Int("mpx.spawn.maxprocs", e.TotalMaxProcs),
			attribute.Int("mpx.spawn.root", e.Root),
		)
		s.spawnSpans.Store(id, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.SpawnFinish) {
		id, _ := opid.FromContext(ctx)
		v, ok := s.spawnSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("mpx.spawn.spawned", e.Spawned))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.AttachStart) {
		id, _ := opid.FromContext(ctx)
		parent := ctx
		if v, ok := s.spawnSpans.Load(id); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "mpx.control.client")
		span.SetAttributes(
			semconv.RPCServiceKey.String("mpx.control.v1.Control"),
			semconv.RPCMethodKey.String(e.Method),
			attribute.String("net.peer.name", e.Target),
		)
		s.attachSpans.Store(id, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.AttachFinish) {
		id, _ := opid.FromContext(ctx)
		v, ok := s.attachSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.String("rpc.grpc.code", e.Code.String()))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}
