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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
)

func TestRestart_ReplicasThenLeader(t *testing.T) {
	for n := 1; n <= 4; n++ {
		t.Run(fmt.Sprintf("%d replicas", n), func(t *testing.T) {
			members := []controlplane.FakeMember{{Name: "pg-0", Role: "Leader", State: "running", TL: 1}}
			want := make([]string, 0, n+1)
			for i := 1; i <= n; i++ {
				name := fmt.Sprintf("pg-%d", i)
				members = append(members, controlplane.FakeMember{Name: name, Role: "Replica", State: "streaming", TL: 1, LagMB: controlplane.MB(0)})
				want = append(want, name)
			}
			want = append(want, "pg-0")
			fc, env := newEnv(t, members...)

			res := NewRestartAction(env, RestartConfig{}).Execute(context.Background())

			require.NoError(t, res.Err)
			restarts := fc.CallsTo("restart")
			assert.Equal(t, want, pods(restarts))
			require.Len(t, res.Operations, n+1)
			for i, op := range res.Operations {
				assert.Equal(t, cluster.OperationRestart, op.Kind)
				assert.Equal(t, want[i], op.Target)
				assert.Equal(t, cluster.StatusSucceeded, op.Status)
			}

			// The leader is re-resolved right before its restart.
			calls := fc.Calls()
			last := -1
			for i, c := range calls {
				if c.Subcommand() == "restart" {
					last = i
				}
			}
			require.Positive(t, last)
			assert.Equal(t, "list", calls[last-1].Subcommand())
			assert.Equal(t, "pg-0", calls[last-1].Pod)
			assert.False(t, res.Report.HasErrors())
		})
	}
}

func TestRestart_LeaderMovedDuringRestart(t *testing.T) {
	fc, env := newEnv(t, scenarioCluster(0, 0)...)
	fc.OnCommand = func(fc *controlplane.FakeCluster, call controlplane.FakeCall) {
		if call.Subcommand() == "restart" && call.Pod == "pg-1" {
			fc.Update("pg-0", func(m *controlplane.FakeMember) { m.Role = "Replica"; m.LagMB = controlplane.MB(0) })
			fc.Update("pg-1", func(m *controlplane.FakeMember) { m.Role = "Leader" })
		}
	}

	res := NewRestartAction(env, RestartConfig{}).Execute(context.Background())

	assert.Equal(t, []string{"pg-1", "pg-2", "pg-0"}, pods(fc.CallsTo("restart")))
	warnings := issuesWith(res.Report, report.SeverityWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Leadership changed during rolling restart", warnings[0].Title)
	assert.Contains(t, res.Report.Narration(), "Leadership moved from pg-0 to pg-1 during the restart")
}

func TestRestart_MemberFailureDoesNotStopTheRest(t *testing.T) {
	fc, env := newEnv(t, scenarioCluster(0, 0)...)
	fc.ExecErrors = map[string]error{"pg-1": errors.New("error dialing backend: EOF")}

	res := NewRestartAction(env, RestartConfig{}).Execute(context.Background())

	require.Len(t, res.Operations, 3)
	assert.Equal(t, cluster.StatusFailed, res.Operations[0].Status)
	assert.Equal(t, types.CauseUnknown, res.Operations[0].Cause)
	assert.Equal(t, cluster.StatusSucceeded, res.Operations[1].Status)
	assert.Equal(t, cluster.StatusSucceeded, res.Operations[2].Status)
	assert.Equal(t, []string{"pg-1", "pg-2", "pg-0"}, pods(fc.CallsTo("restart")))
	assert.True(t, res.Report.HasErrors())
}

func TestRestart_CommandFailureIsClassified(t *testing.T) {
	fc, env := newEnv(t, scenarioCluster(0, 0)...)
	fc.Responses = map[string]controlplane.ExecResult{
		"restart": {ExitCode: 1, Stderr: "Failed: restart for member pg-1, status code=503, (postmaster is already running)"},
	}

	res := NewRestartAction(env, RestartConfig{}).Execute(context.Background())

	require.Len(t, res.Operations, 3)
	for _, op := range res.Operations {
		assert.Equal(t, types.CauseAlreadyRunning, op.Cause)
	}
	assert.Len(t, fc.CallsTo("restart"), 3)
}

func TestRestart_PostCheckWarnsAboutStoppedMembers(t *testing.T) {
	fc, env := newEnv(t, scenarioCluster(0, 0)...)
	fc.OnCommand = func(fc *controlplane.FakeCluster, call controlplane.FakeCall) {
		if call.Subcommand() == "restart" && call.Pod == "pg-2" {
			fc.Update("pg-2", func(m *controlplane.FakeMember) { m.State = "stopped" })
		}
	}

	res := NewRestartAction(env, RestartConfig{}).Execute(context.Background())

	warnings := issuesWith(res.Report, report.SeverityWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Member pg-2 is stopped after rolling restart", warnings[0].Title)
	assert.False(t, res.Report.HasErrors())
}

func TestRestart_NoLeader(t *testing.T) {
	members := scenarioCluster(0, 0)
	members[0].Role = "Replica"
	fc, env := newEnv(t, members...)

	res := NewRestartAction(env, RestartConfig{}).Execute(context.Background())

	assert.Equal(t, types.CauseNoLeader, res.Cause)
	assert.Empty(t, res.Operations)
	assert.Empty(t, fc.MutatingCalls())
	assert.True(t, res.Report.HasErrors())
}

func TestRestart_DeadlineStopsSequence(t *testing.T) {
	fc, env := newEnv(t, scenarioCluster(0, 0)...)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := NewRestartAction(env, RestartConfig{Stabilization: time.Hour}).Execute(ctx)

	assert.Equal(t, types.CauseTimeout, res.Cause)
	require.Error(t, res.Err)
	require.Len(t, res.Operations, 3, "one operation per member")
	assert.Equal(t, "pg-1", res.Operations[0].Target)
	assert.Equal(t, cluster.StatusSucceeded, res.Operations[0].Status)
	for _, op := range res.Operations[1:] {
		assert.Equal(t, cluster.StatusFailed, op.Status, op.Target)
		assert.Equal(t, types.CauseTimeout, op.Cause, op.Target)
	}
	assert.Equal(t, []string{"pg-2", "pg-0"}, []string{res.Operations[1].Target, res.Operations[2].Target})
	assert.Equal(t, []string{"pg-1"}, pods(fc.CallsTo("restart")))
	assert.True(t, res.Report.HasErrors())
}

func TestRestartAction_Metadata(t *testing.T) {
	_, env := newEnv(t)
	md := NewRestartAction(env, DefaultRestartConfig()).Metadata()
	assert.Equal(t, "RollingRestart", md.Name)
	assert.Equal(t, 30*time.Second, DefaultRestartConfig().Stabilization)
}
