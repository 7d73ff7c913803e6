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

package servenv

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgrecover/go/tools/telemetry"
	"github.com/multigres/pgrecover/go/viperutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "json", slog.LevelInfo))
	logger.Info("member restarted", "member", "pg-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "member restarted", rec["msg"])
	assert.Equal(t, "pg-1", rec["member"])
}

func TestNewHandler_TextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "text", slog.LevelWarn))
	logger.Info("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestSetupLogging_FileOutput(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "pgrecover.log")
	reg := viperutil.NewRegistry()
	lg := NewLogger(reg, nil)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	lg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-output", path, "--log-format", "json", "--log-level", "debug"}))

	logger := lg.SetupLogging()
	logger.Info("inspecting cluster", "cluster", "hippo")
	require.NoError(t, lg.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cluster":"hippo"`)
	assert.Same(t, logger, lg.SetupLogging(), "setup runs once")
}

func TestSetupLogging_TraceContext(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	setup := telemetry.SetupTestTelemetry(t)
	ctx := context.Background()
	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "pgrecover"))
	defer func() { _ = setup.Telemetry.ShutdownTelemetry(ctx) }()

	path := filepath.Join(t.TempDir(), "pgrecover.log")
	lg := NewLogger(viperutil.NewRegistry(), setup.Telemetry)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	lg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-output", path}))

	logger := lg.SetupLogging()
	spanCtx, span := telemetry.Tracer().Start(ctx, "failover")
	logger.InfoContext(spanCtx, "switchover issued")
	span.End()
	require.NoError(t, lg.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "trace_id="+span.SpanContext().TraceID().String())
	assert.NotEmpty(t, setup.LogRecords.Records())
}
