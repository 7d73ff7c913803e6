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
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitTelemetry(t *testing.T) {
	s := SetupTestTelemetry(t)
	ctx := context.Background()

	before := s.Telemetry.GetTracerProvider()
	require.NoError(t, s.Telemetry.InitTelemetry(ctx, "pgrecover"))
	assert.True(t, s.Telemetry.initialized)
	assert.NotEqual(t, before, s.Telemetry.GetTracerProvider())
	assert.Equal(t, s.Telemetry.GetTracerProvider(), otel.GetTracerProvider())
	assert.Equal(t, s.Telemetry.GetMeterProvider(), otel.GetMeterProvider())

	// Second call keeps the first providers.
	tp := s.Telemetry.tracerProvider
	require.NoError(t, s.Telemetry.InitTelemetry(ctx, "other"))
	assert.Same(t, tp, s.Telemetry.tracerProvider)

	require.NoError(t, s.Telemetry.ShutdownTelemetry(ctx))
	assert.False(t, s.Telemetry.initialized)
	require.NoError(t, s.Telemetry.ShutdownTelemetry(ctx))
}

func TestInitForCommand(t *testing.T) {
	s := SetupTestTelemetry(t)
	cmd := &cobra.Command{Use: "failover"}
	cmd.SetContext(context.Background())

	span, err := s.Telemetry.InitForCommand(cmd, "pgrecover", true)
	require.NoError(t, err)
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	spans := s.SpanExporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "failover", spans[0].Name)
	require.NoError(t, s.Telemetry.ShutdownTelemetry(context.Background()))
}

func TestInitForCommand_Traceparent(t *testing.T) {
	t.Setenv("TRACEPARENT", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	s := SetupTestTelemetry(t)
	cmd := &cobra.Command{Use: "restart"}
	cmd.SetContext(context.Background())

	span, err := s.Telemetry.InitForCommand(cmd, "pgrecover", true)
	require.NoError(t, err)
	span.End()

	spans := s.SpanExporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent.SpanID().String())
	require.NoError(t, s.Telemetry.ShutdownTelemetry(context.Background()))
}

func TestWrapSlogHandler(t *testing.T) {
	s := SetupTestTelemetry(t)
	ctx := context.Background()
	require.NoError(t, s.Telemetry.InitTelemetry(ctx, "pgrecover"))
	defer func() { _ = s.Telemetry.ShutdownTelemetry(ctx) }()

	var buf bytes.Buffer
	logger := slog.New(s.Telemetry.WrapSlogHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(ctx, "outside span")
	assert.NotContains(t, buf.String(), "trace_id=")

	spanCtx, span := Tracer().Start(ctx, "op")
	logger.InfoContext(spanCtx, "inside span", "member", "pg-1")
	span.End()

	assert.Contains(t, buf.String(), "trace_id="+span.SpanContext().TraceID().String())
	assert.Contains(t, buf.String(), "member=pg-1")
	assert.Len(t, s.LogRecords.Records(), 2)
}

func TestWrapTransport(t *testing.T) {
	s := SetupTestTelemetry(t)
	ctx := context.Background()
	require.NoError(t, s.Telemetry.InitTelemetry(ctx, "pgrecover"))
	defer func() { _ = s.Telemetry.ShutdownTelemetry(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: s.Telemetry.WrapTransport(http.DefaultTransport)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.NotEmpty(t, s.SpanExporter.GetSpans())
	var rm metricdata.ResourceMetrics
	require.NoError(t, s.MetricReader.Collect(ctx, &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}
