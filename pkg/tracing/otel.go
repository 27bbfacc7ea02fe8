package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "crm-assistant"

type Config struct {
	ServiceName    string `envconfig:"SERVICE_NAME" split_words:"true" default:"crm-assistant"`
	ExportEndpoint string `envconfig:"EXPORTER_ENDPOINT" split_words:"true"`
	Insecure       bool   `envconfig:"INSECURE" split_words:"true" default:"false"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.ExportEndpoint) != ""
}

// InitTracer installs a global tracer provider exporting over OTLP/HTTP.
// Without it spans go to the no-op provider.
func InitTracer(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(strings.TrimSpace(cfg.ExportEndpoint)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func StartRunSpan(ctx context.Context, runID string, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("session.id", sessionID),
		),
	)
}

func StartDecideSpan(ctx context.Context, turns int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "completion.decide",
		trace.WithAttributes(
			attribute.Int("history.turns", turns),
		),
	)
}

func StartActionSpan(ctx context.Context, action string, callID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "action.dispatch",
		trace.WithAttributes(
			attribute.String("action.name", action),
			attribute.String("action.call_id", callID),
		),
	)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
