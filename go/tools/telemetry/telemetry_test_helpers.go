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

package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestSetup is a Telemetry wired to in-memory exporters.
type TestSetup struct {
	Telemetry    *Telemetry
	SpanExporter *tracetest.InMemoryExporter
	MetricReader *metric.ManualReader
	LogRecords   *LogRecorder
}

// ForceFlush flushes pending spans and metrics.
func (s *TestSetup) ForceFlush(ctx context.Context) error {
	if err := s.Telemetry.tracerProvider.ForceFlush(ctx); err != nil {
		return err
	}
	return s.Telemetry.meterProvider.ForceFlush(ctx)
}

// LogRecorder is a log processor that keeps every record.
type LogRecorder struct {
	records []sdklog.Record
}

var _ sdklog.Processor = (*LogRecorder)(nil)

func (r *LogRecorder) OnEmit(_ context.Context, rec *sdklog.Record) error {
	r.records = append(r.records, rec.Clone())
	return nil
}

func (r *LogRecorder) Shutdown(context.Context) error   { return nil }
func (r *LogRecorder) ForceFlush(context.Context) error { return nil }

// Records returns the records seen so far.
func (r *LogRecorder) Records() []sdklog.Record { return r.records }

// restoreGlobals puts the global providers back when the test ends.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

// SetupTestTelemetry returns a Telemetry whose InitTelemetry uses
// in-memory exporters. The global providers are restored after the test.
func SetupTestTelemetry(t *testing.T) *TestSetup {
	t.Helper()
	restoreGlobals(t)

	s := &TestSetup{
		SpanExporter: tracetest.NewInMemoryExporter(),
		MetricReader: metric.NewManualReader(),
		LogRecords:   &LogRecorder{},
	}
	s.Telemetry = NewTelemetry().WithTestExporters(s.SpanExporter, s.MetricReader, s.LogRecords)
	return s
}
