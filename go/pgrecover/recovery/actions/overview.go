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
	"strings"
	"time"

	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/analysis"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
)

// OverviewConfig tunes the health overview.
type OverviewConfig struct {
	LagThresholdBytes int64
}

// OverviewResult is the outcome of an overview.
type OverviewResult struct {
	// State is nil when inspection failed.
	State    *cluster.State
	Problems []analysis.Problem
	// Cause and Err are set when inspection failed.
	Cause  types.Cause
	Err    error
	Report *report.Report
}

// OverviewAction reports the topology and health of a cluster. It never
// issues a mutating command.
type OverviewAction struct {
	env       Env
	cfg       OverviewConfig
	analyzers []analysis.Analyzer
}

// NewOverviewAction creates an overview using the default analyzers.
func NewOverviewAction(env Env, cfg OverviewConfig) *OverviewAction {
	return &OverviewAction{env: env, cfg: cfg, analyzers: analysis.DefaultAnalyzers()}
}

func (a *OverviewAction) Metadata() Metadata {
	return Metadata{
		Name:        "Overview",
		Description: "Report cluster topology, member health and replication lag",
		Timeout:     120 * time.Second,
		Retryable:   true,
	}
}

// Execute inspects the cluster once. The result is never nil.
func (a *OverviewAction) Execute(ctx context.Context) *OverviewResult {
	env := a.env
	rep := env.newReport()
	res := &OverviewResult{Report: rep}

	state, err := env.Inspector.Inspect(ctx, "")
	if err != nil {
		res.Cause, res.Err = failInspection(ctx, env, rep, "Overview", err), err
		return res
	}
	res.State = state
	narrateState(rep, state)
	if leader := state.LeaderName(); leader != "" {
		rep.Narrate("Leader: %s", leader)
	}

	ca := &analysis.ClusterAnalysis{State: state, LagThresholdBytes: a.cfg.LagThresholdBytes}
	res.Problems = analysis.Analyze(ca, a.analyzers...)
	for _, p := range res.Problems {
		env.Logger.InfoContext(ctx, "problem detected",
			"check", p.CheckName, "code", p.Code, "member", p.Member, "severity", p.Severity)
		rep.AddIssue(p.Severity, p.Title, p.Description)
	}

	if stale := analysis.ReinitCandidates(state, a.cfg.LagThresholdBytes); len(stale) > 0 {
		names := make([]string, len(stale))
		for i, m := range stale {
			names[i] = m.Name
		}
		rep.Narrate("Members that reinitialize would rebuild: %s", strings.Join(names, ", "))
	}
	if len(res.Problems) == 0 {
		rep.Narrate("No problems found in cluster %s", state.ClusterName)
	} else {
		rep.Narrate("%d problem(s) found in cluster %s", len(res.Problems), state.ClusterName)
	}
	return res
}
