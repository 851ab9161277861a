// Package observability трассировка узла через OpenTelemetry.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/npc-authority/internal/logging"
)

// TracerName имя трассировщика симуляции
const TracerName = "github.com/annel0/npc-authority"

// Config параметры трассировки
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Endpoint адрес OTLP HTTP приёмника (host:port)
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// SampleRatio доля тиков, попадающих в трассировку
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		ServiceName: "npcd",
		Endpoint:    "localhost:4318",
		Insecure:    true,
		SampleRatio: 0.01,
	}
}

// InitTelemetry настраивает OTLP экспортер и устанавливает глобальный TracerProvider.
// Возвращает функцию shutdown, которую нужно вызвать при завершении приложения.
// Выключенная трассировка возвращает пустой shutdown: глобальный провайдер остаётся no-op.
func InitTelemetry(ctx context.Context, cfg Config, participantID string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceInstanceID(participantID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	logging.Info("📡 OpenTelemetry инициализирован (OTLP → %s, service=%s)", cfg.Endpoint, cfg.ServiceName)

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}
	return shutdown, nil
}

// Tracer трассировщик симуляции из глобального провайдера
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartTick открывает span тика
func StartTick(ctx context.Context, tracer trace.Tracer, participantID string, seq uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "simulation.tick",
		trace.WithAttributes(
			attribute.String("npc.participant", participantID),
			attribute.Int64("npc.tick", int64(seq)),
		),
	)
}

// EntityEvent добавляет в span событие сущности (заявка владения, спавн, смерть)
func EntityEvent(span trace.Span, name, entityID string, attrs ...attribute.KeyValue) {
	if !span.IsRecording() {
		return
	}
	attrs = append(attrs, attribute.String("npc.entity", entityID))
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
