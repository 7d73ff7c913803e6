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
	"time"

	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/analysis"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
	"github.com/multigres/pgrecover/go/tools/retry"
)

// ReinitConfig tunes the reinitialize action.
type ReinitConfig struct {
	LagThresholdBytes int64
	// LagImprovement is the fraction of the initial lag that must be
	// recovered for a member to count as healthy.
	LagImprovement float64
	// Verify bounds the wait for each member to recover.
	Verify retry.PollConfig
}

// DefaultReinitConfig checks 10 times 30s apart for a 90% lag reduction.
func DefaultReinitConfig() ReinitConfig {
	return ReinitConfig{
		LagThresholdBytes: 100 << 20,
		LagImprovement:    0.9,
		Verify:            retry.PollConfig{MaxAttempts: 10, Interval: 30 * time.Second},
	}
}

// MemberOutcome is where a member ended up.
type MemberOutcome string

const (
	OutcomeHealthy   MemberOutcome = "Healthy"
	OutcomeDiagnosed MemberOutcome = "Diagnosed"
	OutcomeSkipped   MemberOutcome = "Skipped"
)

// MemberResult is the outcome of reinitializing one member.
type MemberResult struct {
	Member    string
	Outcome   MemberOutcome
	Operation *cluster.Operation
	// InitialLag and FinalLag are nil when unknown.
	InitialLag *int64
	FinalLag   *int64
	// Failure and Diagnostics are set for diagnosed members.
	Failure     *types.FailureCause
	Diagnostics *Diagnostics
}

// ReinitializeResult is the outcome of one reinitialize run.
type ReinitializeResult struct {
	Members []*MemberResult
	// Cause and Err are set when the run aborted before processing members.
	Cause  types.Cause
	Err    error
	Report *report.Report
}

// ReinitializeAction rebuilds failed or lagging members from the leader.
//
// The action:
// Inspects the cluster and detects members that are not running or lag
// above the threshold, or takes the explicitly requested member
// Runs reinit on each member in turn; a member's failure does not stop
// the others
// Polls until the member runs with its lag recovered
// Diagnoses members that fail, classifying the command output
type ReinitializeAction struct {
	env Env
	cfg ReinitConfig
}

// NewReinitializeAction creates a new reinitialize action.
func NewReinitializeAction(env Env, cfg ReinitConfig) *ReinitializeAction {
	return &ReinitializeAction{env: env, cfg: cfg}
}

func (a *ReinitializeAction) Metadata() Metadata {
	return Metadata{
		Name:        "Reinitialize",
		Description: "Rebuild failed or lagging members from the leader",
		Timeout:     900 * time.Second,
		Retryable:   false,
	}
}

// Execute reinitializes target, or every member that needs it when target
// is empty. The result is never nil.
func (a *ReinitializeAction) Execute(ctx context.Context, target string) *ReinitializeResult {
	env := a.env
	rep := env.newReport()
	res := &ReinitializeResult{Report: rep}

	abort := func(cause types.Cause, err error, title string) *ReinitializeResult {
		res.Cause, res.Err = cause, err
		env.Logger.ErrorContext(ctx, "reinitialize aborted", "cluster", env.Client.ClusterObject(), "cause", cause, "error", err)
		rep.Narrate("Reinitialize aborted: %v", err)
		rep.AddIssue(report.SeverityError, title, describeFailure(err.Error(), analysis.Failure(cause, "")))
		return res
	}

	state, err := env.Inspector.Inspect(ctx, "")
	if err != nil {
		res.Cause, res.Err = failInspection(ctx, env, rep, "Reinitialize", err), err
		return res
	}
	narrateState(rep, state)

	leader, err := state.Leader()
	if err != nil {
		return abort(types.CauseNoLeader, err, "Reinitialize impossible: cluster "+state.ClusterName+" has no single leader")
	}

	var targets []cluster.Member
	if target != "" {
		m, ok := state.Member(target)
		switch {
		case !ok:
			return abort(types.CauseUnknown,
				mterrors.Errorf(codes.InvalidArgument, "%s is not a member of cluster %s", target, state.ClusterName),
				"Reinitialize target "+target+" not found")
		case m.Name == leader.Name:
			return abort(types.CauseUnknown,
				mterrors.Errorf(codes.FailedPrecondition, "%s is the leader; fail over before reinitializing it", target),
				"Refusing to reinitialize leader "+target)
		}
		targets = []cluster.Member{m}
	} else {
		targets = analysis.ReinitCandidates(state, a.cfg.LagThresholdBytes)
	}

	if len(targets) == 0 {
		rep.Narrate("No member is stopped or lagging above %s, nothing to reinitialize",
			cluster.FormatBytes(a.cfg.LagThresholdBytes))
		return res
	}

	for _, m := range targets {
		if err := ctx.Err(); err != nil {
			res.Members = append(res.Members, a.skip(ctx, rep, m, err))
			continue
		}
		res.Members = append(res.Members, a.reinitMember(ctx, rep, state.ClusterName, m))
	}
	return res
}

// skip records a member that was not attempted because the run ended.
func (a *ReinitializeAction) skip(ctx context.Context, rep *report.Report, m cluster.Member, err error) *MemberResult {
	op := cluster.NewOperation(cluster.OperationReinitialize, m.Name, a.env.now())
	op.Fail(causeOf(err), err, a.env.now())
	a.env.Logger.WarnContext(ctx, "skipping member", "member", m.Name, "error", err)
	rep.Narrate("%s: skipped, %v", m.Name, err)
	rep.AddIssue(report.SeverityError, "Member "+m.Name+" was not reinitialized",
		"The operation ended before "+m.Name+" was processed: "+err.Error())
	return &MemberResult{Member: m.Name, Outcome: OutcomeSkipped, Operation: op, InitialLag: m.LagBytes}
}

// reinitMember drives Detected -> Reiniting -> Verifying -> Healthy or
// Diagnosed for one member.
func (a *ReinitializeAction) reinitMember(ctx context.Context, rep *report.Report, scope string, m cluster.Member) *MemberResult {
	env := a.env
	op := cluster.NewOperation(cluster.OperationReinitialize, m.Name, env.now())
	mr := &MemberResult{Member: m.Name, Operation: op, InitialLag: m.LagBytes}

	rep.Narrate("%s: %s, lag %s, reinitializing", m.Name, m.State, m.LagString())
	env.Logger.InfoContext(ctx, "reinitializing member", "cluster", scope, "member", m.Name, "state", m.State, "lag", m.LagString())

	op.Start()
	op.Attempts++
	if _, err := env.Client.Reinit(ctx, scope, m.Name); err != nil {
		fc := classifyCommand(err)
		a.diagnose(ctx, rep, mr, fc, err, report.SeverityError, "Reinitialize of "+m.Name+" failed")
		return mr
	}

	op.Verify()
	var last *cluster.Member
	checks, err := retry.Poll(ctx, a.cfg.Verify, func(ctx context.Context, attempt int) (bool, error) {
		s, err := env.Inspector.Inspect(ctx, "")
		if err != nil {
			env.Logger.WarnContext(ctx, "inspection failed during reinitialize verification", "member", m.Name, "attempt", attempt, "error", err)
			return false, nil
		}
		cur, ok := s.Member(m.Name)
		if !ok {
			return false, nil
		}
		last = &cur
		env.Logger.DebugContext(ctx, "verifying reinitialize", "member", m.Name, "attempt", attempt, "state", cur.State, "lag", cur.LagString())
		return a.healthy(m, cur), nil
	})
	op.Attempts += checks
	if last != nil {
		mr.FinalLag = last.LagBytes
	}

	switch {
	case err == nil:
		op.Succeed(env.now())
		mr.Outcome = OutcomeHealthy
		rep.Narrate("%s: healthy after %d checks, lag %s", m.Name, checks, last.LagString())
		rep.AddIssue(report.SeverityInfo, "Member "+m.Name+" reinitialized",
			fmt.Sprintf("%s is running with lag %s (was %s)", m.Name, last.LagString(), m.LagString()))
		env.Logger.InfoContext(ctx, "member recovered", "member", m.Name, "lag", last.LagString())
	case errors.Is(err, retry.ErrExhausted):
		severity := report.SeverityError
		if a.progressed(m, last) {
			severity = report.SeverityWarning
		}
		observed := "never observed"
		if last != nil {
			observed = fmt.Sprintf("last seen %s with lag %s", last.State, last.LagString())
		}
		verr := mterrors.Errorf(codes.Aborted, "%s did not recover after %d checks, %s", m.Name, checks, observed)
		a.diagnose(ctx, rep, mr, analysis.Failure(types.CauseNotConverged, observed), verr, severity,
			"Member "+m.Name+" did not recover after reinitialize")
	default:
		fc := analysis.Failure(causeOf(err), "")
		a.diagnose(ctx, rep, mr, fc, err, report.SeverityError, "Reinitialize of "+m.Name+" did not finish")
	}
	return mr
}

// healthy reports whether cur has recovered from the state it was in
// before the reinit. Unknown lag never counts as recovered.
func (a *ReinitializeAction) healthy(before, cur cluster.Member) bool {
	if !cur.IsRunning() {
		return false
	}
	lag, ok := cur.Lag()
	if !ok {
		return false
	}
	if lag < a.cfg.LagThresholdBytes {
		return true
	}
	initial, ok := before.Lag()
	if !ok || initial <= 0 {
		return false
	}
	return float64(initial-lag)/float64(initial) >= a.cfg.LagImprovement
}

// progressed reports partial recovery: the member runs, and its lag either
// shrank or could not be measured.
func (a *ReinitializeAction) progressed(before cluster.Member, last *cluster.Member) bool {
	if last == nil || !last.IsRunning() {
		return false
	}
	lag, ok := last.Lag()
	if !ok {
		return true
	}
	initial, ok := before.Lag()
	return !ok || lag < initial
}

// diagnose moves a member to Diagnosed. Command output classified as
// Unknown is refined with the diagnostics when they point to a cause.
func (a *ReinitializeAction) diagnose(ctx context.Context, rep *report.Report, mr *MemberResult,
	fc types.FailureCause, err error, severity report.Severity, title string,
) {
	env := a.env
	var diag Diagnostics
	if ctx.Err() == nil {
		diag = collectDiagnostics(ctx, env.Client, mr.Member)
		mr.Diagnostics = &diag
		if fc.Cause == types.CauseUnknown || fc.Cause == types.CauseNotConverged {
			if refined := analysis.Classify(diag.Text()); refined.Cause != types.CauseUnknown {
				fc = refined
			}
		}
	}

	mr.Outcome = OutcomeDiagnosed
	mr.Failure = &fc
	mr.Operation.Fail(fc.Cause, err, env.now())

	env.Logger.WarnContext(ctx, "member diagnosed", "member", mr.Member, "cause", fc.Cause, "error", err)
	rep.Narrate("%s: diagnosed %s", mr.Member, fc.Cause)
	desc := describeFailure(err.Error(), fc)
	if text := diag.Text(); text != "" {
		desc += "\nDiagnostics:\n" + text
	}
	rep.AddIssue(severity, title, desc)
}
