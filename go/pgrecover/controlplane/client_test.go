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

package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgrecover/go/pgrecover/cluster"
)

func newTestFake(t *testing.T, flavor Flavor) (*FakeCluster, *Client) {
	t.Helper()
	api, err := LookupAPI(flavor)
	require.NoError(t, err)
	fc := NewFakeCluster(api, "hippo",
		FakeMember{Name: "pg-0", Role: "Leader", State: "running", TL: 2},
		FakeMember{Name: "pg-1", Role: "Replica", State: "streaming", TL: 2, LagMB: MB(0)},
		FakeMember{Name: "pg-2", Role: "Replica", State: "streaming", TL: 2, LagMB: MB(500)},
	)
	return fc, NewClient(fc, api, "hippo", "", slog.Default(), WithExecTimeout(time.Minute))
}

func TestClient_PodsLeaderFirst(t *testing.T) {
	fc, c := newTestFake(t, FlavorCrunchy)
	fc.Update("pg-0", func(m *FakeMember) { m.Role = "Replica" })
	fc.Update("pg-2", func(m *FakeMember) { m.Role = "Leader" })
	fc.Update("pg-1", func(m *FakeMember) { m.PodDown = true })

	pods, err := c.Pods(context.Background())
	require.NoError(t, err)
	require.Len(t, pods, 2)
	assert.Equal(t, "pg-2", pods[0].Name)
	assert.Equal(t, "pg-0", pods[1].Name)
}

func TestClient_PodsListError(t *testing.T) {
	fc, c := newTestFake(t, FlavorZalando)
	fc.ListPodsErr = errors.New("forbidden")
	_, err := c.Pods(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list pods for cluster hippo")
}

func TestClient_List(t *testing.T) {
	fc, c := newTestFake(t, FlavorCrunchy)
	members, scope, err := c.List(context.Background(), "pg-1")
	require.NoError(t, err)
	assert.Equal(t, "hippo-ha", scope)
	require.Len(t, members, 3)
	assert.Equal(t, cluster.RoleLeader, members[0].Role)

	fc.OmitScope = true
	_, scope, err = c.List(context.Background(), "pg-1")
	require.NoError(t, err)
	assert.Equal(t, "hippo-ha", scope, "falls back to the flavor's naming")
}

func TestClient_RunReturnsCommandError(t *testing.T) {
	fc, c := newTestFake(t, FlavorCrunchy)
	fc.Responses = map[string]ExecResult{
		"reinit": {ExitCode: 1, Stderr: "could not write to file: No space left on device"},
	}
	_, err := c.Reinit(context.Background(), "hippo-ha", "pg-2")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "pg-2", cmdErr.Pod)
	assert.Equal(t, 1, cmdErr.Result.ExitCode)
	assert.Contains(t, err.Error(), "No space left on device")
	assert.Contains(t, err.Error(), "patronictl reinit hippo-ha pg-2 --force")
}

func TestClient_ExecTransportError(t *testing.T) {
	fc, c := newTestFake(t, FlavorCrunchy)
	fc.ExecErrors = map[string]error{"pg-1": errors.New("container not found")}

	var observed []string
	c.observer = func(_ context.Context, sub string, _ int, err error) {
		if err != nil {
			observed = append(observed, sub)
		}
	}
	_, err := c.Exec(context.Background(), "pg-1", ListCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec list on pg-1")
	assert.Equal(t, []string{"list"}, observed)
}

func TestClient_ReplicationLag(t *testing.T) {
	_, c := newTestFake(t, FlavorCrunchy)
	lags, err := c.ReplicationLag(context.Background(), "pg-0", []string{"pg-1", "pg-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"pg-1": 0, "pg-2": 500 << 20}, lags)
}

func TestClient_ShowConfig(t *testing.T) {
	fc, c := newTestFake(t, FlavorCrunchy)
	fc.ShowConfig = "maximum_lag_on_failover: 1048576\n"
	cfg, err := c.ShowConfig(context.Background(), "pg-0", "hippo-ha")
	require.NoError(t, err)
	require.NotNil(t, cfg.MaximumLagOnFailover)
	assert.Equal(t, int64(1<<20), *cfg.MaximumLagOnFailover)
}

func TestFakeCluster_SwitchoverMovesLeadership(t *testing.T) {
	fc, c := newTestFake(t, FlavorCrunchy)
	_, err := c.Switchover(context.Background(), "hippo-ha", "pg-0", "pg-1")
	require.NoError(t, err)
	assert.Equal(t, "pg-1", fc.LeaderName())
	require.Len(t, fc.MutatingCalls(), 1)
	assert.Equal(t, "pg-1", fc.MutatingCalls()[0].Pod)
}

func TestFakeCluster_ReinitWrongScope(t *testing.T) {
	_, c := newTestFake(t, FlavorCrunchy)
	_, err := c.Reinit(context.Background(), "hippo", "pg-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a member of cluster")
}

func TestExecResult_Output(t *testing.T) {
	assert.Equal(t, "out", ExecResult{Stdout: "out"}.Output())
	assert.Equal(t, "err", ExecResult{Stderr: "err"}.Output())
	assert.Equal(t, "err\nout", ExecResult{Stdout: "out", Stderr: "err"}.Output())
}
