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


package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgrecover/go/pgrecover/config"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/pgrecover/report"
	"github.com/multigres/pgrecover/go/tools/telemetry"
)

// testCommand is a root command whose transport is a fake cluster.
type testCommand struct {
	root  *cobra.Command
	pc    *PgRecoverCommand
	out   *bytes.Buffer
	fs    afero.Fs
	fc    *controlplane.FakeCluster
	dials int
}

func newTestCommand(t *testing.T, members []controlplane.FakeMember) *testCommand {
	t.Helper()
	setup := telemetry.SetupTestTelemetry(t)
	api, err := controlplane.LookupAPI(controlplane.FlavorCrunchy)
	require.NoError(t, err)

	tc := &testCommand{
		out: &bytes.Buffer{},
		fs:  afero.NewMemMapFs(),
		fc:  controlplane.NewFakeCluster(api, "hippo", members...),
	}
	tc.root, tc.pc = newRootCommand(setup.Telemetry)
	tc.pc.stdout = tc.out
	tc.pc.fs = tc.fs
	tc.pc.newTransport = func(*config.Config, *telemetry.Telemetry, *slog.Logger) (controlplane.Transport, error) {
		tc.dials++
		return tc.fc, nil
	}
	return tc
}

// run executes args with the waits removed.
func (tc *testCommand) run(t *testing.T, args ...string) {
	t.Helper()
	tc.root.SetArgs(append(args,
		"--namespace", "postgres",
		"--failover-settle-delay", "0s",
		"--failover-poll-interval", "0s",
		"--reinit-poll-interval", "0s",
		"--restart-stabilization", "0s",
		"--log-level", "error",
	))
	require.NoError(t, tc.root.Execute())
}

func threeMembers(lag1, lag2 int) []controlplane.FakeMember {
	return []controlplane.FakeMember{
		{Name: "pg-0", Role: "Leader", State: "running", TL: 1},
		{Name: "pg-1", Role: "Replica", State: "streaming", TL: 1, LagMB: controlplane.MB(lag1)},
		{Name: "pg-2", Role: "Replica", State: "streaming", TL: 1, LagMB: controlplane.MB(lag2)},
	}
}

func TestSubcommands(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		members  []controlplane.FakeMember
		wantExit int
		wantOut  []string
		check    func(t *testing.T, fc *controlplane.FakeCluster)
	}{
		{
			name:    "overview",
			args:    []string{"overview", "--cluster", "hippo"},
			members: threeMembers(0, 0),
			wantOut: []string{"Running overview on cluster hippo in namespace postgres", "Leader: pg-0", "No problems found"},
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Empty(t, fc.MutatingCalls())
			},
		},
		{
			name:    "automatic failover",
			args:    []string{"failover", "--cluster", "hippo"},
			members: threeMembers(0, 500),
			wantOut: []string{"Selected pg-1 as candidate"},
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Equal(t, "pg-1", fc.LeaderName())
			},
		},
		{
			name:    "failover to a named member",
			args:    []string{"failover", "pg-2", "--cluster", "hippo"},
			members: threeMembers(0, 0),
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Equal(t, "pg-2", fc.LeaderName())
			},
		},
		{
			name:     "failover without a candidate",
			args:     []string{"failover", "--cluster", "hippo"},
			members:  threeMembers(500, 500),
			wantExit: 1,
			wantOut:  []string{`"severity": "error"`},
		},
		{
			name:    "restart",
			args:    []string{"restart", "--cluster", "hippo"},
			members: threeMembers(0, 0),
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Len(t, fc.CallsTo("restart"), 3)
			},
		},
		{
			name:    "reinit alias with nothing to rebuild",
			args:    []string{"reinit", "--cluster", "hippo"},
			members: threeMembers(0, 0),
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Empty(t, fc.MutatingCalls())
			},
		},
		{
			name:    "operation from the root flag",
			args:    []string{"--operation", "restart", "--cluster", "hippo"},
			members: threeMembers(0, 0),
			check: func(t *testing.T, fc *controlplane.FakeCluster) {
				assert.Len(t, fc.CallsTo("restart"), 3)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCommand(t, tt.members)
			tc.run(t, tt.args...)

			assert.Equal(t, tt.wantExit, tc.pc.ExitCode())
			assert.Equal(t, 1, tc.dials)
			out := tc.out.String()
			assert.Contains(t, out, "\nIssues:\n")
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
			if tt.check != nil {
				tt.check(t, tc.fc)
			}
		})
	}
}

func TestInvalidConfigurationStillReports(t *testing.T) {
	tc := newTestCommand(t, threeMembers(0, 0))
	tc.run(t, "overview", "--report-format", "json", "--lag-threshold", "lots")

	assert.Equal(t, 1, tc.pc.ExitCode())
	assert.Zero(t, tc.dials, "nothing is contacted with an invalid configuration")

	var doc struct {
		Issues []report.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(tc.out.Bytes(), &doc))
	require.Len(t, doc.Issues, 1)
	assert.Equal(t, "Invalid configuration", doc.Issues[0].Title)
	assert.Contains(t, doc.Issues[0].Description, "cluster is required")
	assert.Contains(t, doc.Issues[0].Description, `invalid byte size "lots"`)
}

func TestMalformedConfigFileStillReports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgrecover.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster: [unterminated\n"), 0o600))

	tc := newTestCommand(t, threeMembers(0, 0))
	tc.run(t, "overview", "--config-file", path)

	assert.Equal(t, 1, tc.pc.ExitCode())
	assert.Zero(t, tc.dials, "nothing is contacted when the config file cannot be read")
	out := tc.out.String()
	assert.Contains(t, out, "Invalid configuration")
	assert.Contains(t, out, "failed to load config")
	assert.Contains(t, out, "While parsing config")
}

func TestTransportFailureStillReports(t *testing.T) {
	tc := newTestCommand(t, nil)
	tc.pc.newTransport = func(*config.Config, *telemetry.Telemetry, *slog.Logger) (controlplane.Transport, error) {
		return nil, errors.New("no kubeconfig found")
	}
	tc.run(t, "failover", "--cluster", "hippo")

	assert.Equal(t, 1, tc.pc.ExitCode())
	out := tc.out.String()
	assert.Contains(t, out, "Cannot run failover on cluster hippo: no kubeconfig found")
	assert.Contains(t, out, `"title": "Cannot connect to Kubernetes"`)
}

func TestReportFile(t *testing.T) {
	tc := newTestCommand(t, threeMembers(0, 800))
	tc.run(t, "overview", "--cluster", "hippo", "--report-format", "yaml", "--report-file", "/reports/hippo.yaml")

	assert.Equal(t, 0, tc.pc.ExitCode())
	saved, err := afero.ReadFile(tc.fs, "/reports/hippo.yaml")
	require.NoError(t, err)
	assert.Equal(t, tc.out.String(), string(saved))
	assert.True(t, strings.HasPrefix(string(saved), "narration:\n"))
	assert.Contains(t, string(saved), "pg-2")
}

func TestSubcommandArgs(t *testing.T) {
	root, _ := GetRootCommand()
	for _, name := range []string{"overview", "restart"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Error(t, cmd.Args(cmd, []string{"pg-1"}), "%s takes no member", name)
	}
	for _, name := range []string{"failover", "reinitialize"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.NoError(t, cmd.Args(cmd, []string{"pg-1"}))
		assert.Error(t, cmd.Args(cmd, []string{"pg-1", "pg-2"}))
	}
}
