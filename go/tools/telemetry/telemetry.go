// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry sets up OpenTelemetry tracing, metrics and log export
// for a pgrecover run.
//
// Export is off unless the standard OTEL_* variables ask for it. To send
// traces and metrics to a local collector:
//
//	OTEL_EXPORTER_OTLP_PROTOCOL="http/protobuf" \
//	  OTEL_EXPORTER_OTLP_ENDPOINT="http://localhost:4318" \
//	  OTEL_TRACES_EXPORTER=otlp \
//	  OTEL_METRICS_EXPORTER=otlp \
//	  pgrecover failover --cluster hippo
//
// A TRACEPARENT variable in the environment makes the run a child of the
// caller's trace.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/multigres/pgrecover"

// Tracer returns the tracer for pgrecover spans from the current global
// provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Telemetry owns the OpenTelemetry providers of the process.
type Telemetry struct {
	mu             sync.Mutex
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
	initialized    bool

	// Set by tests in place of autoexport.
	testSpanExporter sdktrace.SpanExporter
	testMetricReader sdkmetric.Reader
	testLogProcessor sdklog.Processor
}

// NewTelemetry creates an uninitialized Telemetry.
func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

// WithTestExporters makes InitTelemetry use the given exporters instead
// of autoexport. Any of them may be nil. Must be called before
// InitTelemetry.
func (t *Telemetry) WithTestExporters(spanExporter sdktrace.SpanExporter, metricReader sdkmetric.Reader, logProcessor sdklog.Processor) *Telemetry {
	t.testSpanExporter = spanExporter
	t.testMetricReader = metricReader
	t.testLogProcessor = logProcessor
	return t
}

// InitTelemetry installs the tracer, meter and logger providers as the
// process globals. OTEL_SERVICE_NAME overrides serviceName. Calling it
// again after success is a no-op.
func (t *Telemetry) InitTelemetry(ctx context.Context, serviceName string, attrs ...attribute.KeyValue) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return nil
	}
	if env := os.Getenv("OTEL_SERVICE_NAME"); env != "" {
		serviceName = env
	}

	// resource.Default() is not merged in; its schema URL can conflict.
	res := resource.NewWithAttributes(semconv.SchemaURL,
		append([]attribute.KeyValue{semconv.ServiceName(serviceName)}, attrs...)...)

	if err := t.initTracing(ctx, res); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := t.initMetrics(ctx, res); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := t.initLogs(ctx, res); err != nil {
		return fmt.Errorf("failed to initialize logs: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.initialized = true
	slog.DebugContext(ctx, "OpenTelemetry initialized", "service", serviceName)
	return nil
}

// defaultExporter turns export off for a signal unless the environment
// names an exporter.
func defaultExporter(envVar string) {
	if os.Getenv(envVar) == "" {
		os.Setenv(envVar, "none")
	}
}

func (t *Telemetry) initTracing(ctx context.Context, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if t.testSpanExporter != nil {
		opts = append(opts, sdktrace.WithSyncer(t.testSpanExporter))
	} else {
		defaultExporter("OTEL_TRACES_EXPORTER")
		exporter, err := autoexport.NewSpanExporter(ctx)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	t.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(t.tracerProvider)
	return nil
}

func (t *Telemetry) initMetrics(ctx context.Context, res *resource.Resource) error {
	reader := t.testMetricReader
	if reader == nil {
		defaultExporter("OTEL_METRICS_EXPORTER")
		var err error
		if reader, err = autoexport.NewMetricReader(ctx); err != nil {
			return fmt.Errorf("failed to create metric reader: %w", err)
		}
	}
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(t.meterProvider)
	return nil
}

func (t *Telemetry) initLogs(ctx context.Context, res *resource.Resource) error {
	if t.testLogProcessor != nil {
		t.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(t.testLogProcessor),
		)
		return nil
	}

	defaultExporter("OTEL_LOGS_EXPORTER")
	exporter, err := autoexport.NewLogExporter(ctx)
	if err != nil {
		return fmt.Errorf("failed to create log exporter: %w", err)
	}
	if autoexport.IsNoneLogExporter(exporter) {
		return nil
	}
	t.loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	return nil
}

// WithEnvTraceparent returns ctx joined to the trace named by the
// TRACEPARENT environment variable, if set.
func (t *Telemetry) WithEnvTraceparent(ctx context.Context) context.Context {
	tp := os.Getenv("TRACEPARENT")
	if tp == "" {
		return ctx
	}
	// W3C format: version-trace_id-span_id-flags
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{"traceparent": tp})
}

// InitForCommand initializes telemetry for a one-shot command and, when
// startSpan is set, starts a span named after the command. The command's
// context carries the span.
func (t *Telemetry) InitForCommand(cmd *cobra.Command, serviceName string, startSpan bool) (trace.Span, error) {
	if err := t.InitTelemetry(cmd.Context(), serviceName); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	ctx := t.WithEnvTraceparent(cmd.Context())
	span := trace.SpanFromContext(ctx)
	if startSpan {
		ctx, span = Tracer().Start(ctx, cmd.Name())
	}
	cmd.SetContext(ctx)
	return span, nil
}

// GetTracerProvider returns the installed provider, or the global one
// before InitTelemetry.
func (t *Telemetry) GetTracerProvider() trace.TracerProvider {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return t.tracerProvider
}

// GetMeterProvider returns the installed provider, or the global one
// before InitTelemetry.
func (t *Telemetry) GetMeterProvider() metric.MeterProvider {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return t.meterProvider
}

// WrapTransport instruments an HTTP round tripper with the installed
// providers. It fits rest.Config.WrapTransport.
func (t *Telemetry) WrapTransport(rt http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(rt,
		otelhttp.WithTracerProvider(t.GetTracerProvider()),
		otelhttp.WithMeterProvider(t.GetMeterProvider()),
	)
}

// ShutdownTelemetry flushes and stops every provider. A short-lived CLI
// must call it before exiting or buffered spans are lost.
func (t *Telemetry) ShutdownTelemetry(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return nil
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger provider: %w", err))
		}
	}
	t.initialized = false

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}

// WrapSlogHandler adds trace_id and span_id to records logged within a
// span and, when log export is configured, also sends every record to the
// OpenTelemetry logger provider.
func (t *Telemetry) WrapSlogHandler(handler slog.Handler) slog.Handler {
	local := &traceHandler{wrapped: handler}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loggerProvider == nil {
		return local
	}
	return &fanoutHandler{
		local: local,
		otel:  otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(t.loggerProvider)),
	}
}

// fanoutHandler writes every record to a local handler and an OTel one.
type fanoutHandler struct {
	local slog.Handler
	otel  slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level) || h.otel.Enabled(ctx, level)
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.local.Enabled(ctx, r.Level) {
		if err := h.local.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("local handler: %w", err))
		}
	}
	if h.otel.Enabled(ctx, r.Level) {
		if err := h.otel.Handle(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("otel handler: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanoutHandler{local: h.local.WithAttrs(attrs), otel: h.otel.WithAttrs(attrs)}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return &fanoutHandler{local: h.local.WithGroup(name), otel: h.otel.WithGroup(name)}
}

// traceHandler adds the span identifiers from ctx to each record.
type traceHandler struct {
	wrapped slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.wrapped.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{wrapped: h.wrapped.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{wrapped: h.wrapped.WithGroup(name)}
}
