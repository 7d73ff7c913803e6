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

package pgrecover

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/multigres/pgrecover/go/pgrecover/config"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
)

// newTestMeter returns a meter whose data can be collected from reader.
func newTestMeter(t *testing.T) (*sdkmetric.ManualReader, *Metrics) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp.Meter("pgrecover-test"), slog.Default())
	require.NoError(t, err)
	return reader, m
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return metricdata.Metrics{}
}

// commandCounts keys the command counter by "subcommand/status".
func commandCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	sum, ok := collect(t, reader, "pgrecover.controlplane.commands").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		sub, _ := dp.Attributes.Value("subcommand")
		status, _ := dp.Attributes.Value("status")
		out[sub.AsString()+"/"+status.AsString()] = dp.Value
	}
	return out
}

func TestNewMetrics_NilMeterIsNoop(t *testing.T) {
	m, err := NewMetrics(nil, slog.Default())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordOperation(context.Background(), time.Second, config.OperationRestart, "success", types.CauseNone)
		m.ObserveCommand(context.Background(), "restart", 0, nil)
	})
}

func TestMetrics_ObserveCommand(t *testing.T) {
	reader, m := newTestMeter(t)
	ctx := context.Background()

	m.ObserveCommand(ctx, "list", 0, nil)
	m.ObserveCommand(ctx, "list", 0, nil)
	m.ObserveCommand(ctx, "reinit", 1, nil)
	m.ObserveCommand(ctx, "list", -1, errors.New("connection reset"))

	assert.Equal(t, map[string]int64{
		"list/success":        2,
		"reinit/nonzero_exit": 1,
		"list/error":          1,
	}, commandCounts(t, reader))
}

func TestMetrics_RecordOperation(t *testing.T) {
	reader, m := newTestMeter(t)
	m.RecordOperation(context.Background(), 2*time.Second, config.OperationFailover, "failure", types.CauseFailoverRejected)

	hist, ok := collect(t, reader, "pgrecover.operation.duration").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	dp := hist.DataPoints[0]
	assert.Equal(t, uint64(1), dp.Count)
	assert.InDelta(t, 2.0, dp.Sum, 1e-9)
	op, _ := dp.Attributes.Value("operation")
	cause, _ := dp.Attributes.Value("cause")
	assert.Equal(t, "failover", op.AsString())
	assert.Equal(t, "FailoverRejected", cause.AsString())
}
