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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/multigres/pgrecover/go/pgrecover/config"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
)

// Metrics holds the OpenTelemetry instruments of a run. The wrapper types
// keep attribute key names out of instrumented code.
type Metrics struct {
	operationDuration OperationDuration
	commands          CommandCount
}

// OperationDuration wraps a Float64Histogram recording how long an
// operation took.
type OperationDuration struct {
	metric.Float64Histogram
}

// Record records one operation.
//
// Parameters:
//   - operation: overview, failover, restart or reinitialize
//   - status: "success" or "failure"
//   - cause: the failure cause, CauseNone on success
func (m OperationDuration) Record(ctx context.Context, duration time.Duration, operation config.Operation, status string, cause types.Cause) {
	m.Float64Histogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", string(operation)),
			attribute.String("status", status),
			attribute.String("cause", string(cause)),
		))
}

// CommandCount wraps an Int64Counter counting remote commands.
type CommandCount struct {
	metric.Int64Counter
}

// Add counts one command. status is "success", "nonzero_exit" or "error".
func (m CommandCount) Add(ctx context.Context, subcommand, status string) {
	m.Int64Counter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("subcommand", subcommand),
			attribute.String("status", status),
		))
}

// NewMetrics creates the instruments. A nil meter yields noop
// instruments so callers never check for nil.
func NewMetrics(meter metric.Meter, logger *slog.Logger) (*Metrics, error) {
	m := &Metrics{}
	if meter == nil {
		m.operationDuration = OperationDuration{noop.Float64Histogram{}}
		m.commands = CommandCount{noop.Int64Counter{}}
		return m, nil
	}

	hist, err := meter.Float64Histogram(
		"pgrecover.operation.duration",
		metric.WithDescription("Duration of recovery operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Error("failed to create operation.duration histogram", "error", err)
		return nil, err
	}
	m.operationDuration = OperationDuration{hist}

	counter, err := meter.Int64Counter(
		"pgrecover.controlplane.commands",
		metric.WithDescription("Commands run in cluster pods"),
		metric.WithUnit("{commands}"),
	)
	if err != nil {
		logger.Error("failed to create controlplane.commands counter", "error", err)
		return nil, err
	}
	m.commands = CommandCount{counter}

	return m, nil
}

// RecordOperation records the duration and outcome of one operation.
func (m *Metrics) RecordOperation(ctx context.Context, duration time.Duration, operation config.Operation, status string, cause types.Cause) {
	m.operationDuration.Record(ctx, duration, operation, status, cause)
}

// ObserveCommand counts a remote command. Pass it to
// controlplane.WithCommandObserver.
func (m *Metrics) ObserveCommand(ctx context.Context, subcommand string, exitCode int, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case exitCode != 0:
		status = "nonzero_exit"
	}
	m.commands.Add(ctx, subcommand, status)
}
