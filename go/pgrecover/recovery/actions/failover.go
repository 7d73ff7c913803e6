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
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/coordinator"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/analysis"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
	"github.com/multigres/pgrecover/go/tools/retry"
)

// FailoverConfig tunes the failover action.
type FailoverConfig struct {
	LagThresholdBytes int64
	// Verify bounds the wait for the new leader.
	Verify retry.PollConfig
}

// DefaultFailoverConfig waits 30s, then checks 6 times 10s apart.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		LagThresholdBytes: 100 << 20,
		Verify:            retry.PollConfig{MaxAttempts: 6, Interval: 10 * time.Second, SettleDelay: 30 * time.Second},
	}
}

// FailoverResult is the outcome of one failover.
type FailoverResult struct {
	Operation *cluster.Operation
	OldLeader string
	Candidate string
	NewLeader string
	// Failure is set when the operation failed.
	Failure *types.FailureCause
	Report  *report.Report
}

// FailoverAction moves leadership to a healthy replica.
//
// The action:
// Inspects the cluster and resolves the current leader
// Returns success without a command if the target already leads
// Validates the explicit target, or selects the first eligible replica
// Runs switchover if the leader is running, failover otherwise
// Polls until the leader changes, reporting replica lag if it never does
type FailoverAction struct {
	env Env
	cfg FailoverConfig
}

// NewFailoverAction creates a new failover action.
func NewFailoverAction(env Env, cfg FailoverConfig) *FailoverAction {
	return &FailoverAction{env: env, cfg: cfg}
}

func (a *FailoverAction) Metadata() Metadata {
	return Metadata{
		Name:        "Failover",
		Description: "Move leadership to a replica within the lag threshold",
		Timeout:     300 * time.Second,
		Retryable:   false,
	}
}

// Execute runs the failover. target may be empty for an automatic
// failover. The result is never nil.
func (a *FailoverAction) Execute(ctx context.Context, target string) *FailoverResult {
	env := a.env
	rep := env.newReport()
	op := cluster.NewOperation(cluster.OperationFailover, target, env.now())
	res := &FailoverResult{Operation: op, Report: rep}

	fail := func(fc types.FailureCause, err error, title string) *FailoverResult {
		op.Fail(fc.Cause, err, env.now())
		res.Failure = &fc
		env.Logger.ErrorContext(ctx, "failover failed",
			"cluster", env.Client.ClusterObject(), "candidate", res.Candidate, "cause", fc.Cause, "error", err)
		rep.Narrate("Failover failed: %s", fc.Cause)
		rep.AddIssue(report.SeverityError, title, describeFailure(err.Error(), fc))
		return res
	}

	if target != "" {
		rep.Narrate("Failover of cluster %s to %s requested", env.Client.ClusterObject(), target)
	} else {
		rep.Narrate("Automatic failover of cluster %s requested", env.Client.ClusterObject())
	}

	state, err := env.Inspector.Inspect(ctx, "")
	if err != nil {
		cause := failInspection(ctx, env, rep, "Failover", err)
		op.Fail(cause, err, env.now())
		fc := analysis.Failure(cause, err.Error())
		res.Failure = &fc
		return res
	}
	narrateState(rep, state)

	leader, err := state.Leader()
	if err != nil {
		return fail(analysis.Failure(types.CauseNoLeader, err.Error()), err,
			"Failover impossible: cluster "+state.ClusterName+" has no single leader")
	}
	res.OldLeader = leader.Name

	if target != "" && target == leader.Name {
		rep.Narrate("%s is already the leader, nothing to do", target)
		env.Logger.InfoContext(ctx, "failover target already leads", "cluster", state.ClusterName, "leader", leader.Name)
		op.Succeed(env.now())
		res.Candidate, res.NewLeader = target, target
		return res
	}

	// CandidateSelection
	candidate := target
	if target != "" {
		err = coordinator.ValidateCandidate(state, target, leader.Name, a.cfg.LagThresholdBytes)
	} else {
		candidate, err = coordinator.SelectCandidate(state, leader.Name, a.cfg.LagThresholdBytes)
	}
	if err != nil {
		rep.Narrate("Replica lag: %s", replicaLags(state))
		return fail(analysis.Failure(types.CauseNoSuitableCandidate, err.Error()), err,
			"No suitable failover candidate in cluster "+state.ClusterName)
	}
	res.Candidate = candidate
	rep.Narrate("Selected %s as candidate (lag %s)", candidate, memberLag(state, candidate))

	// Executing
	op.Start()
	op.Attempts++
	if leader.IsRunning() {
		rep.Narrate("Switching over from %s to %s", leader.Name, candidate)
		env.Logger.InfoContext(ctx, "issuing switchover", "cluster", state.ClusterName, "leader", leader.Name, "candidate", candidate)
		_, err = env.Client.Switchover(ctx, state.ClusterName, leader.Name, candidate)
	} else {
		rep.Narrate("Leader %s is %s, failing over to %s", leader.Name, leader.State, candidate)
		env.Logger.InfoContext(ctx, "issuing failover", "cluster", state.ClusterName, "leader", leader.Name, "candidate", candidate)
		_, err = env.Client.Failover(ctx, state.ClusterName, candidate)
	}
	if err != nil {
		return fail(classifyCommand(err), err, "Failover command to "+candidate+" failed")
	}

	// Verifying
	op.Verify()
	last := state
	checks, err := retry.Poll(ctx, a.cfg.Verify, func(ctx context.Context, attempt int) (bool, error) {
		s, err := env.Inspector.Inspect(ctx, candidate)
		if err != nil {
			env.Logger.WarnContext(ctx, "inspection failed during failover verification", "attempt", attempt, "error", err)
			return false, nil
		}
		last = s
		newLeader := s.LeaderName()
		env.Logger.DebugContext(ctx, "verifying failover", "attempt", attempt, "leader", newLeader)
		if target != "" {
			return newLeader == candidate, nil
		}
		return newLeader != "" && newLeader != leader.Name, nil
	})
	op.Attempts += checks
	res.NewLeader = last.LeaderName()

	switch {
	case err == nil:
		op.Succeed(env.now())
		rep.Narrate("Leader is now %s after %d checks", res.NewLeader, checks)
		narrateState(rep, last)
		rep.AddIssue(report.SeverityInfo,
			"Failover of cluster "+last.ClusterName+" completed",
			fmt.Sprintf("Leadership moved from %s to %s", leader.Name, res.NewLeader))
		env.Logger.InfoContext(ctx, "failover completed", "cluster", last.ClusterName, "leader", res.NewLeader)
		return res
	case errors.Is(err, retry.ErrExhausted):
		fc := analysis.Failure(types.CauseFailoverRejected, a.rejectionEvidence(ctx, last, leader.Name))
		rep.Narrate("Replica lag: %s", replicaLags(last))
		verr := mterrors.Errorf(codes.Aborted, "leader is still %s after %d checks", displayName(res.NewLeader), checks)
		if res.NewLeader != leader.Name {
			verr = mterrors.Errorf(codes.Aborted, "leader is %s after %d checks, expected %s", displayName(res.NewLeader), checks, candidate)
		}
		return fail(fc, verr, "Failover of cluster "+last.ClusterName+" was not accepted")
	default:
		return fail(analysis.Failure(causeOf(err), ""), err, "Failover of cluster "+last.ClusterName+" did not finish")
	}
}

// rejectionEvidence lists replica lag and the control plane's lag limit.
func (a *FailoverAction) rejectionEvidence(ctx context.Context, state *cluster.State, leader string) string {
	evidence := "replica lag: " + replicaLags(state)
	pod := state.LeaderName()
	if pod == "" {
		pod = leader
	}
	cfg, err := a.env.Client.ShowConfig(ctx, pod, state.ClusterName)
	if err != nil {
		a.env.Logger.WarnContext(ctx, "failed to read dynamic configuration", "member", pod, "error", err)
		return evidence
	}
	if cfg.MaximumLagOnFailover != nil {
		evidence += "; maximum_lag_on_failover is " + cluster.FormatBytes(*cfg.MaximumLagOnFailover)
	}
	return evidence
}

func replicaLags(state *cluster.State) string {
	var parts []string
	for _, m := range state.Replicas() {
		parts = append(parts, fmt.Sprintf("%s %s (%s)", m.Name, m.LagString(), m.State))
	}
	if len(parts) == 0 {
		return "no replicas"
	}
	return strings.Join(parts, ", ")
}

func memberLag(state *cluster.State, name string) string {
	m, ok := state.Member(name)
	if !ok {
		return "unknown"
	}
	return m.LagString()
}

func displayName(name string) string {
	if name == "" {
		return "unresolved"
	}
	return name
}
