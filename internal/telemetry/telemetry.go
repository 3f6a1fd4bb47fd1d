// Package telemetry wires the OpenTelemetry tracer/meter providers named in
// §5's shared-resource model and the kafka→clickhouse sink that the
// retrieval engine's per-call TelemetryEvent (§4.8, final paragraph) drains
// into for offline analysis.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"net/http"

	kafka "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/noemagraph/retrieval-core/internal/config"
	"github.com/noemagraph/retrieval-core/internal/retrieval"
)

// Providers bundles the tracer/meter providers plus the Kafka producer the
// retrieval engine's TelemetryEmitter writes through.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Producer       *KafkaSink
}

// Setup builds the OTLP trace/metric exporters and the kafka event sink
// named in §5's shared-resource model. Any exporter that fails to dial
// (no collector configured) degrades to a no-op rather than failing
// startup — telemetry is diagnostic, never load-bearing.
func Setup(ctx context.Context, cfg config.TelemetryConfig, log zerolog.Logger) (*Providers, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	p := &Providers{}

	if cfg.OTLPEndpoint != "" {
		traceExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
		if err != nil {
			log.Warn().Err(err).Msg("otlp trace exporter dial failed, tracing disabled")
		} else {
			p.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
		}

		metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			log.Warn().Err(err).Msg("otlp metric exporter dial failed, metrics disabled")
		} else {
			p.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)), sdkmetric.WithResource(res))
		}
	}
	if p.TracerProvider == nil {
		p.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	}
	if p.MeterProvider == nil {
		p.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	}
	otel.SetTracerProvider(p.TracerProvider)
	otel.SetMeterProvider(p.MeterProvider)
	p.Tracer = p.TracerProvider.Tracer("retrieval-core")
	p.Meter = p.MeterProvider.Meter("retrieval-core")

	if len(cfg.KafkaBrokers) > 0 {
		p.Producer = NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	}
	return p, nil
}

// Shutdown flushes and closes every provider, best-effort.
func (p *Providers) Shutdown(ctx context.Context) {
	if p.Producer != nil {
		_ = p.Producer.Close()
	}
	if p.TracerProvider != nil {
		_ = p.TracerProvider.Shutdown(ctx)
	}
	if p.MeterProvider != nil {
		_ = p.MeterProvider.Shutdown(ctx)
	}
}

// Middleware wraps an HTTP handler with otelhttp instrumentation (§6's
// request-wall timeout enforcement lives in httpapi; this only adds spans).
func Middleware(operation string, h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, operation)
}

// KafkaSink is the retrieval event producer that feeds the
// ClickHouse-backed analytics sink (consumer side is deployed separately;
// this process only owns the producer).
type KafkaSink struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

func NewKafkaSink(brokers []string, topic string, log zerolog.Logger) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
			Async:                  true,
			Completion: func(_ []kafka.Message, err error) {
				if err != nil {
					log.Warn().Err(err).Msg("telemetry event publish failed")
				}
			},
		},
		log: log,
	}
}

// EmitRetrieval implements retrieval.TelemetryEmitter: marshals the event
// and hands it to the asynchronous Kafka writer, returning without waiting
// for delivery. Failures are logged (delivery errors by the writer's
// Completion callback), never surfaced — telemetry delivery never blocks a
// retrieval response.
func (k *KafkaSink) EmitRetrieval(ctx context.Context, event retrieval.TelemetryEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		k.log.Warn().Err(err).Msg("telemetry event marshal failed")
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := k.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.GraphID),
		Value: payload,
		Time:  time.Now(),
	}); err != nil {
		k.log.Warn().Err(err).Msg("telemetry event publish failed")
	}
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
