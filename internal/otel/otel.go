// Package otel turns compile, execute and mutation events into OpenTelemetry
// spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanpama/entityplan/internal/eventbus"
	"github.com/hanpama/entityplan/internal/events"
	"github.com/hanpama/entityplan/internal/reqid"
)

const instrumentation = "entityplan"

// Setup exports spans over OTLP/gRPC and subscribes to the global bus.
// If endpoint is empty, no telemetry is configured.
func Setup(ctx context.Context, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
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

	s := &subscriber{tracer: tp.Tracer(instrumentation)}
	unsubscribe := s.register(eventbus.Subscribe[events.CompileStart], eventbus.Subscribe[events.CompileFinish],
		eventbus.Subscribe[events.ExecuteStart], eventbus.Subscribe[events.ExecuteFinish],
		eventbus.Subscribe[events.MutationCallStart], eventbus.Subscribe[events.MutationCallFinish])
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach records spans for events emitted on b with tracer.
func Attach(b *eventbus.Bus, tracer trace.Tracer) (detach func()) {
	s := &subscriber{tracer: tracer}
	return s.register(
		func(h eventbus.Handler[events.CompileStart]) func() { return eventbus.On(b, h) },
		func(h eventbus.Handler[events.CompileFinish]) func() { return eventbus.On(b, h) },
		func(h eventbus.Handler[events.ExecuteStart]) func() { return eventbus.On(b, h) },
		func(h eventbus.Handler[events.ExecuteFinish]) func() { return eventbus.On(b, h) },
		func(h eventbus.Handler[events.MutationCallStart]) func() { return eventbus.On(b, h) },
		func(h eventbus.Handler[events.MutationCallFinish]) func() { return eventbus.On(b, h) },
	)
}

type subscriber struct {
	tracer       trace.Tracer
	compileSpans sync.Map // rid -> trace.Span
	executeSpans sync.Map // rid -> trace.Span
	callSpans    sync.Map // rid -> trace.Span
}

func (s *subscriber) register(
	compileStart func(eventbus.Handler[events.CompileStart]) func(),
	compileFinish func(eventbus.Handler[events.CompileFinish]) func(),
	executeStart func(eventbus.Handler[events.ExecuteStart]) func(),
	executeFinish func(eventbus.Handler[events.ExecuteFinish]) func(),
	callStart func(eventbus.Handler[events.MutationCallStart]) func(),
	callFinish func(eventbus.Handler[events.MutationCallFinish]) func(),
) func() {
	offs := []func(){
		compileStart(func(ctx context.Context, e events.CompileStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "graphql.compile")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.Int("graphql.document.operations", e.Operations),
				attribute.Int("graphql.document.fragments", e.Fragments),
			)
			s.compileSpans.Store(rid, span)
		}),
		compileFinish(func(ctx context.Context, e events.CompileFinish) {
			finish(&s.compileSpans, ctx, e.Err)
		}),
		executeStart(func(ctx context.Context, e events.ExecuteStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "graphql.execute")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
			)
			s.executeSpans.Store(rid, span)
		}),
		executeFinish(func(ctx context.Context, e events.ExecuteFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.executeSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(attribute.Int("graphql.error_count", len(e.Errors)))
			if len(e.Errors) > 0 {
				span.SetStatus(codes.Error, e.Errors[0].Error())
			}
			span.End()
		}),
		callStart(func(ctx context.Context, e events.MutationCallStart) {
			rid, _ := reqid.FromContext(ctx)
			parent := ctx
			if v, ok := s.executeSpans.Load(rid); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
			_, span := s.tracer.Start(parent, "graphql.mutation")
			span.SetAttributes(
				attribute.String("graphql.field", e.Field),
				attribute.Bool("graphql.async", e.Async),
			)
			s.callSpans.Store(rid, span)
		}),
		callFinish(func(ctx context.Context, e events.MutationCallFinish) {
			finish(&s.callSpans, ctx, e.Err)
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func finish(spans *sync.Map, ctx context.Context, err error) {
	rid, _ := reqid.FromContext(ctx)
	v, ok := spans.LoadAndDelete(rid)
	if !ok {
		return
	}
	span := v.(trace.Span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
