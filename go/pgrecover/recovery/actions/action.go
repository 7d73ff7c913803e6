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

// Package actions runs the mutating recovery operations: failover,
// reinitialize and rolling restart. Each action inspects the cluster
// before and after acting, issues commands one at a time, and returns a
// result owning its own report.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/pgrecover/coordinator"
	"github.com/multigres/pgrecover/go/pgrecover/inspector"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/analysis"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
)

// Metadata describes an action.
type Metadata struct {
	Name        string
	Description string
	// Timeout is the default wall-clock budget of one run.
	Timeout   time.Duration
	Retryable bool
}

// Env is what every action needs to reach and describe the cluster.
type Env struct {
	Client    *controlplane.Client
	Inspector *inspector.Inspector
	Namespace string
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Env) newReport() *report.Report {
	return report.New(e.Client.ClusterObject(), e.Namespace).WithClock(e.now)
}

// causeOf maps an error that aborts an operation to a cause.
func causeOf(err error) types.Cause {
	switch {
	case err == nil:
		return types.CauseNone
	case errors.Is(err, controlplane.ErrNoRunningMember):
		return types.CauseNoRunningMember
	case mterrors.IsDeadline(err):
		return types.CauseTimeout
	case errors.Is(err, cluster.ErrNoLeader):
		return types.CauseNoLeader
	case errors.Is(err, coordinator.ErrNoSuitableCandidate):
		return types.CauseNoSuitableCandidate
	}
	return types.CauseUnknown
}

// classifyCommand turns the error of a mutating command into a failure
// cause. Command output is classified; transport errors are classified
// on their message unless the deadline expired.
func classifyCommand(err error) types.FailureCause {
	if mterrors.IsDeadline(err) {
		return analysis.Failure(types.CauseTimeout, err.Error())
	}
	var cmdErr *controlplane.CommandError
	if errors.As(err, &cmdErr) {
		return analysis.Classify(cmdErr.Result.Output())
	}
	return analysis.Classify(err.Error())
}

// describeFailure renders a failure cause for an issue description.
func describeFailure(summary string, fc types.FailureCause) string {
	desc := summary + "\nCause: " + string(fc.Cause)
	if fc.Evidence != "" {
		desc += "\nEvidence: " + fc.Evidence
	}
	if len(fc.Remediation) > 0 {
		desc += "\nRemediation:\n" + fc.Checklist()
	}
	return desc
}

// narrateState writes one line per member.
func narrateState(rep *report.Report, state *cluster.State) {
	rep.Narrate("Cluster %s has %d members (observed %s)",
		state.ClusterName, len(state.Members), state.ObservedAt.UTC().Format(time.RFC3339))
	for _, m := range state.Members {
		rep.Narrate("  %-12s %-8s %-9s timeline %d, lag %s", m.Name, m.Role, m.State, m.Timeline, m.LagString())
	}
}

// failInspection reports an inspection that aborted an operation.
func failInspection(ctx context.Context, env Env, rep *report.Report, op string, err error) types.Cause {
	cause := causeOf(err)
	env.Logger.ErrorContext(ctx, "cluster inspection failed", "operation", op, "cause", cause, "error", err)
	rep.Narrate("%s aborted: %v", op, err)
	rep.AddIssue(report.SeverityError,
		op+" aborted for cluster "+env.Client.ClusterObject(),
		describeFailure(err.Error(), analysis.Failure(cause, "")))
	return cause
}
