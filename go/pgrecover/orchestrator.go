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

// Package pgrecover runs one recovery operation against a Patroni-managed
// PostgreSQL cluster and produces the report of that run.
package pgrecover

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/multigres/pgrecover/go/pgrecover/config"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/actions"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/analysis"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
	"github.com/multigres/pgrecover/go/tools/telemetry"
)

// Result is the outcome of one operation.
type Result struct {
	Operation config.Operation
	// Cause is the first failure cause observed, CauseNone when nothing
	// failed.
	Cause    types.Cause
	Duration time.Duration
	Report   *report.Report
}

// ExitCode is 1 when the report holds an error issue, 0 otherwise.
func (r *Result) ExitCode() int { return r.Report.ExitCode() }

// Orchestrator dispatches an operation to its action under the
// configured wall-clock budget.
type Orchestrator struct {
	cfg     *config.Config
	env     actions.Env
	metrics *Metrics
}

// NewOrchestrator creates an orchestrator. A nil metrics records nothing.
func NewOrchestrator(cfg *config.Config, env actions.Env, metrics *Metrics) *Orchestrator {
	if metrics == nil {
		metrics, _ = NewMetrics(nil, env.Logger)
	}
	return &Orchestrator{cfg: cfg, env: env, metrics: metrics}
}

func (o *Orchestrator) now() time.Time {
	if o.env.Now != nil {
		return o.env.Now()
	}
	return time.Now()
}

// Run executes op and always returns a result with a report, whatever
// happened.
func (o *Orchestrator) Run(ctx context.Context, op config.Operation) *Result {
	clusterName, ns := o.env.Client.ClusterObject(), o.env.Namespace
	ctx, span := telemetry.Tracer().Start(ctx, "pgrecover."+string(op), trace.WithAttributes(
		attribute.String("cluster", clusterName),
		attribute.String("namespace", ns),
	))
	defer span.End()

	budget := o.cfg.GetOperationTimeout()
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := o.now()
	rep := report.New(clusterName, ns).WithClock(o.now)
	rep.Narrate("Running %s on cluster %s in namespace %s (budget %s)", op, clusterName, ns, budget)
	o.env.Logger.InfoContext(ctx, "operation starting", "operation", op, "cluster", clusterName, "namespace", ns)

	res := &Result{Operation: op, Report: rep}
	sub, cause := o.dispatch(ctx, op)
	rep.Merge(sub)
	res.Cause = cause
	res.Duration = o.now().Sub(start)

	status := "success"
	if rep.HasErrors() {
		status = "failure"
		span.SetStatus(codes.Error, "operation reported errors")
	}
	span.SetAttributes(attribute.String("cause", string(cause)))
	o.metrics.RecordOperation(ctx, res.Duration, op, status, cause)

	rep.Narrate("%s finished in %s: %d issue(s), exit code %d",
		op, res.Duration.Round(time.Millisecond), len(rep.Issues()), rep.ExitCode())
	o.env.Logger.InfoContext(ctx, "operation finished",
		"operation", op, "cluster", clusterName, "status", status, "cause", cause, "duration", res.Duration)
	return res
}

// dispatch runs the action for op and returns its report and first
// failure cause.
func (o *Orchestrator) dispatch(ctx context.Context, op config.Operation) (*report.Report, types.Cause) {
	env, target := o.env, o.cfg.GetTargetMember()
	switch op {
	case config.OperationOverview:
		r := actions.NewOverviewAction(env, actions.OverviewConfig{
			LagThresholdBytes: o.cfg.GetLagThreshold().Bytes(),
		}).Execute(ctx)
		return r.Report, r.Cause

	case config.OperationFailover:
		r := actions.NewFailoverAction(env, o.cfg.FailoverConfig()).Execute(ctx, target)
		if r.Failure != nil {
			return r.Report, r.Failure.Cause
		}
		return r.Report, types.CauseNone

	case config.OperationReinitialize:
		r := actions.NewReinitializeAction(env, o.cfg.ReinitConfig()).Execute(ctx, target)
		if r.Cause != types.CauseNone {
			return r.Report, r.Cause
		}
		for _, m := range r.Members {
			if m.Failure != nil {
				return r.Report, m.Failure.Cause
			}
		}
		return r.Report, types.CauseNone

	case config.OperationRestart:
		r := actions.NewRestartAction(env, o.cfg.RestartConfig()).Execute(ctx)
		if r.Cause != types.CauseNone {
			return r.Report, r.Cause
		}
		for _, opr := range r.Operations {
			if opr.Cause != types.CauseNone {
				return r.Report, opr.Cause
			}
		}
		return r.Report, types.CauseNone
	}

	rep := report.New(o.env.Client.ClusterObject(), o.env.Namespace).WithClock(o.now)
	_, err := config.ParseOperation(string(op))
	if err == nil {
		err = fmt.Errorf("operation %q has no action", op)
	}
	rep.AddIssue(report.SeverityError, "Unknown operation "+string(op),
		err.Error()+"\nRemediation:\n"+analysis.Failure(types.CauseUnknown, "").Checklist())
	return rep, types.CauseUnknown
}
