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

package executil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestCapture_StdoutAndExitCode(t *testing.T) {
	res, err := Command(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3").Capture()
	require.NoError(t, err)
	assert.Equal(t, "out", res.Stdout)
	assert.Equal(t, "err", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
}

func TestCapture_MissingBinary(t *testing.T) {
	res, err := Command(context.Background(), "pgrecover-no-such-binary").Capture()
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestCapture_Stdin(t *testing.T) {
	res, err := Command(context.Background(), "cat").SetStdin(strings.NewReader("hippo")).Capture()
	require.NoError(t, err)
	assert.Equal(t, "hippo", res.Stdout)
}

func TestCommand_AddEnv(t *testing.T) {
	res, err := Command(context.Background(), "env").
		AddEnv("PGR_TEST_1=value1").
		AddEnv("PGR_TEST_2=value2").
		Capture()
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "PGR_TEST_1=value1")
	assert.Contains(t, res.Stdout, "PGR_TEST_2=value2")
	assert.Contains(t, res.Stdout, "PATH=", "parent environment is inherited")
}

func TestCommand_SetEnvThenAddEnv(t *testing.T) {
	res, err := Command(context.Background(), "/usr/bin/env").
		SetEnv([]string{"ONLY=base"}).
		AddEnv("EXTRA=added").
		Capture()
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "ONLY=base")
	assert.Contains(t, res.Stdout, "EXTRA=added")
	assert.NotContains(t, res.Stdout, "PATH=")
}

func TestCapture_ContextCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := CommandWithGracePeriod(ctx, 100*time.Millisecond, "sleep", "10").Capture()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCommand_TraceparentPropagation(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	res, err := Command(ctx, "env").Capture()
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "TRACEPARENT=00-4bf92f3577b34da6a3ce929d0e0e4736-")
}

func TestCommand_NoTraceparentWithoutSpan(t *testing.T) {
	res, err := Command(context.Background(), "env").Capture()
	require.NoError(t, err)
	assert.NotContains(t, res.Stdout, "TRACEPARENT=")
}
