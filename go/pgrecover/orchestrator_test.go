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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgrecover/go/pgrecover/config"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/pgrecover/inspector"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/actions"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
)

// threeMembers is a leader and two replicas with the given lags in MiB.
func threeMembers(lag1, lag2 int) []controlplane.FakeMember {
	return []controlplane.FakeMember{
		{Name: "pg-0", Role: "Leader", State: "running", TL: 1},
		{Name: "pg-1", Role: "Replica", State: "streaming", TL: 1, LagMB: controlplane.MB(lag1)},
		{Name: "pg-2", Role: "Replica", State: "streaming", TL: 1, LagMB: controlplane.MB(lag2)},
	}
}

func newTestOrchestrator(t *testing.T, metrics *Metrics, members []controlplane.FakeMember, opts ...func(*config.Config)) (*controlplane.FakeCluster, *Orchestrator) {
	t.Helper()
	cfg := config.NewTestConfig(append([]func(*config.Config){
		config.WithCluster("hippo"),
		config.WithNamespace("postgres"),
		config.WithNoWaits(),
		config.WithPollAttempts(2, 2),
	}, opts...)...)
	require.NoError(t, cfg.Validate())

	api, err := controlplane.LookupAPI(cfg.GetAPIFlavor())
	require.NoError(t, err)
	fc := controlplane.NewFakeCluster(api, cfg.GetCluster(), members...)
	var clientOpts []controlplane.Option
	if metrics != nil {
		clientOpts = append(clientOpts, controlplane.WithCommandObserver(metrics.ObserveCommand))
	}
	client := controlplane.NewClient(fc, api, cfg.GetCluster(), cfg.GetContainer(), slog.Default(), clientOpts...)
	env := actions.Env{
		Client:    client,
		Inspector: inspector.New(client, slog.Default()),
		Namespace: cfg.GetNamespace(),
		Logger:    slog.Default(),
	}
	return fc, NewOrchestrator(cfg, env, metrics)
}

func TestRun(t *testing.T) {
	tests := []struct {
		name      string
		op        config.Operation
		members   []controlplane.FakeMember
		setup     func(fc *controlplane.FakeCluster)
		wantCause types.Cause
		wantExit  int
		check     func(t *testing.T, fc *controlplane.FakeCluster)
	}{
		{
			name:    "overview of a healthy cluster",
			op:      config.OperationOverview,
			members: threeMembers(0, 0),
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Empty(t, fc.MutatingCalls())
			},
		},
		{
			name:    "automatic failover",
			op:      config.OperationFailover,
			members: threeMembers(0, 500),
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Equal(t, "pg-1", fc.LeaderName())
			},
		},
		{
			name:      "failover without a candidate",
			op:        config.OperationFailover,
			members:   threeMembers(500, 500),
			wantCause: types.CauseNoSuitableCandidate,
			wantExit:  1,
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Empty(t, fc.MutatingCalls())
			},
		},
		{
			name:    "rolling restart",
			op:      config.OperationRestart,
			members: threeMembers(0, 0),
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				restarts := fc.CallsTo("restart")
				require.Len(t, restarts, 3)
				assert.Contains(t, strings.Join(restarts[2].Argv, " "), "pg-0")
			},
		},
		{
			name:    "reinitialize with disk full",
			op:      config.OperationReinitialize,
			members: threeMembers(0, 800),
			setup: func(fc *controlplane.FakeCluster) {
				fc.Responses = map[string]controlplane.ExecResult{
					"reinit": {ExitCode: 1, Stderr: "pg_basebackup: could not write to file: No space left on device"},
				}
			},
			wantCause: types.CauseDiskFull,
			wantExit:  1,
		},
		{
			name:    "reinitialize with nothing to do",
			op:      config.OperationReinitialize,
			members: threeMembers(0, 0),
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Empty(t, fc.MutatingCalls())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, o := newTestOrchestrator(t, nil, tt.members)
			if tt.setup != nil {
				tt.setup(fc)
			}

			res := o.Run(context.Background(), tt.op)

			require.NotNil(t, res.Report)
			assert.Equal(t, tt.op, res.Operation)
			assert.Equal(t, tt.wantCause, res.Cause)
			assert.Equal(t, tt.wantExit, res.ExitCode())
			narration := res.Report.Narration()
			require.NotEmpty(t, narration)
			assert.Equal(t, "Running "+string(tt.op)+" on cluster hippo in namespace postgres (budget 15m0s)", narration[0])
			assert.Contains(t, narration[len(narration)-1], string(tt.op)+" finished in")
			for _, issue := range res.Report.Issues() {
				assert.Equal(t, "hippo", issue.Cluster)
				assert.Equal(t, "postgres", issue.Namespace)
			}
			if tt.check != nil {
				tt.check(t, fc)
			}
		})
	}
}

func TestRun_ExplicitTarget(t *testing.T) {
	fc, o := newTestOrchestrator(t, nil, threeMembers(0, 0), config.WithTargetMember("pg-2"))
	res := o.Run(context.Background(), config.OperationFailover)

	assert.Equal(t, 0, res.ExitCode())
	assert.Equal(t, "pg-2", fc.LeaderName())
}

func TestRun_DeadlineExpired(t *testing.T) {
	fc, o := newTestOrchestrator(t, nil, threeMembers(0, 500))
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res := o.Run(ctx, config.OperationFailover)

	assert.Equal(t, types.CauseTimeout, res.Cause)
	assert.Equal(t, 1, res.ExitCode())
	assert.Empty(t, fc.MutatingCalls())
}

func TestRun_UnknownOperation(t *testing.T) {
	fc, o := newTestOrchestrator(t, nil, threeMembers(0, 0))
	res := o.Run(context.Background(), "promote")

	assert.Equal(t, types.CauseUnknown, res.Cause)
	assert.Equal(t, 1, res.ExitCode())
	issues := res.Report.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "Unknown operation promote", issues[0].Title)
	assert.Equal(t, report.SeverityError, issues[0].Severity)
	assert.Empty(t, fc.Calls())
}

func TestRun_RecordsMetrics(t *testing.T) {
	reader, metrics := newTestMeter(t)
	_, o := newTestOrchestrator(t, metrics, threeMembers(0, 0))

	res := o.Run(context.Background(), config.OperationRestart)
	require.Equal(t, 0, res.ExitCode())

	counts := commandCounts(t, reader)
	assert.Equal(t, int64(3), counts["restart/success"])
	assert.Positive(t, counts["list/success"])

	hist := collect(t, reader, "pgrecover.operation.duration")
	assert.Equal(t, "s", hist.Unit)
}
