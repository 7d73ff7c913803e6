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

package actions

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/analysis"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
	"github.com/multigres/pgrecover/go/tools/retry"
)

// RestartConfig tunes the rolling restart.
type RestartConfig struct {
	// Stabilization is waited after every member restart.
	Stabilization time.Duration
}

// DefaultRestartConfig waits 30s between members.
func DefaultRestartConfig() RestartConfig {
	return RestartConfig{Stabilization: 30 * time.Second}
}

// RestartResult is the outcome of a rolling restart.
type RestartResult struct {
	// Operations has one entry per member in restart order, leader last.
	Operations []*cluster.Operation
	// Cause and Err are set when the run aborted before every member was
	// restarted.
	Cause  types.Cause
	Err    error
	Report *report.Report
}

// RestartAction restarts every member, replicas first and the leader last.
//
// The action:
// Inspects the cluster and resolves the leader
// Restarts each replica in listing order, waiting between members
// Re-resolves the leader, then restarts the original leader
// Waits once more and re-inspects to report members that did not return
type RestartAction struct {
	env Env
	cfg RestartConfig
}

// NewRestartAction creates a new rolling restart action.
func NewRestartAction(env Env, cfg RestartConfig) *RestartAction {
	return &RestartAction{env: env, cfg: cfg}
}

func (a *RestartAction) Metadata() Metadata {
	return Metadata{
		Name:        "RollingRestart",
		Description: "Restart every member, replicas before the leader",
		Timeout:     600 * time.Second,
		Retryable:   false,
	}
}

// Execute runs the rolling restart. The result is never nil.
func (a *RestartAction) Execute(ctx context.Context) *RestartResult {
	env := a.env
	rep := env.newReport()
	res := &RestartResult{Report: rep}

	state, err := env.Inspector.Inspect(ctx, "")
	if err != nil {
		res.Cause, res.Err = failInspection(ctx, env, rep, "Rolling restart", err), err
		return res
	}
	narrateState(rep, state)

	leader, err := state.Leader()
	if err != nil {
		res.Cause, res.Err = types.CauseNoLeader, err
		rep.Narrate("Rolling restart aborted: %v", err)
		rep.AddIssue(report.SeverityError, "Rolling restart impossible: cluster "+state.ClusterName+" has no single leader",
			describeFailure(err.Error(), analysis.Failure(types.CauseNoLeader, "")))
		return res
	}

	order := make([]string, 0, len(state.Members))
	for _, m := range state.Members {
		if m.Name != leader.Name {
			order = append(order, m.Name)
		}
	}
	rep.Narrate("Restart order: %v, then leader %s", order, leader.Name)

	scope := state.ClusterName
	for i, name := range order {
		if err := a.restartMember(ctx, rep, res, scope, name); err != nil {
			a.abort(rep, res, append(slices.Clone(order[i+1:]), leader.Name), err)
			return res
		}
	}

	// The leader may have moved while replicas restarted.
	if current, err := env.Inspector.Inspect(ctx, leader.Name); err != nil {
		env.Logger.WarnContext(ctx, "failed to re-resolve leader before restarting it", "leader", leader.Name, "error", err)
		rep.Narrate("Could not re-resolve the leader (%v), restarting %s", err, leader.Name)
	} else if cur := current.LeaderName(); cur != leader.Name {
		rep.Narrate("Leadership moved from %s to %s during the restart", leader.Name, displayName(cur))
		rep.AddIssue(report.SeverityWarning, "Leadership changed during rolling restart",
			fmt.Sprintf("%s was leader when the restart began; %s leads now. %s is restarted last as a replica.",
				leader.Name, displayName(cur), leader.Name))
	} else {
		rep.Narrate("%s is still the leader", leader.Name)
	}
	if err := a.restartMember(ctx, rep, res, scope, leader.Name); err != nil {
		a.abort(rep, res, nil, err)
		return res
	}

	a.postCheck(ctx, rep)
	return res
}

// restartMember restarts one member and waits for it to stabilize. A
// failed restart command is recorded and the run continues; the returned
// error means the operation itself ended and the run must stop.
func (a *RestartAction) restartMember(ctx context.Context, rep *report.Report, res *RestartResult, scope, name string) error {
	env := a.env
	op := cluster.NewOperation(cluster.OperationRestart, name, env.now())
	res.Operations = append(res.Operations, op)

	if err := ctx.Err(); err != nil {
		op.Fail(causeOf(err), err, env.now())
		rep.AddIssue(report.SeverityError, "Rolling restart did not finish",
			"The operation ended before "+name+" was restarted: "+err.Error())
		return err
	}

	op.Start()
	op.Attempts++
	env.Logger.InfoContext(ctx, "restarting member", "cluster", scope, "member", name)
	if _, err := env.Client.Restart(ctx, scope, name); err != nil {
		fc := classifyCommand(err)
		op.Fail(fc.Cause, err, env.now())
		env.Logger.WarnContext(ctx, "member restart failed", "member", name, "cause", fc.Cause, "error", err)
		rep.Narrate("%s: restart failed (%s)", name, fc.Cause)
		rep.AddIssue(report.SeverityError, "Restart of "+name+" failed", describeFailure(err.Error(), fc))
	} else {
		op.Succeed(env.now())
		rep.Narrate("%s: restarted", name)
	}

	if err := retry.Wait(ctx, a.cfg.Stabilization); err != nil {
		rep.AddIssue(report.SeverityError, "Rolling restart did not finish",
			"The operation ended while "+name+" was stabilizing: "+err.Error())
		return err
	}
	return nil
}

// abort fails the run with the cause of err and records every member in
// remaining as failed, so the result holds one operation per member.
func (a *RestartAction) abort(rep *report.Report, res *RestartResult, remaining []string, err error) {
	env := a.env
	res.Cause, res.Err = causeOf(err), err
	for _, name := range remaining {
		op := cluster.NewOperation(cluster.OperationRestart, name, env.now())
		op.Fail(res.Cause, err, env.now())
		res.Operations = append(res.Operations, op)
	}
	if len(remaining) > 0 {
		rep.Narrate("Rolling restart aborted (%s), not restarted: %s", res.Cause, strings.Join(remaining, ", "))
	} else {
		rep.Narrate("Rolling restart aborted (%s)", res.Cause)
	}
}

// postCheck re-inspects after the last restart and warns about members
// that did not come back.
func (a *RestartAction) postCheck(ctx context.Context, rep *report.Report) {
	state, err := a.env.Inspector.Inspect(ctx, "")
	if err != nil {
		rep.AddIssue(report.SeverityWarning, "Cluster state unknown after rolling restart",
			"Inspection after the last restart failed: "+err.Error())
		return
	}
	narrateState(rep, state)
	if _, err := state.Leader(); err != nil {
		rep.AddIssue(report.SeverityWarning, "No leader after rolling restart", err.Error())
	}
	for _, m := range state.Members {
		if !m.IsRunning() {
			rep.AddIssue(report.SeverityWarning, "Member "+m.Name+" is "+string(m.State)+" after rolling restart",
				fmt.Sprintf("%s %s did not return to running within %s", m.Role, m.Name, a.cfg.Stabilization))
		}
	}
}
