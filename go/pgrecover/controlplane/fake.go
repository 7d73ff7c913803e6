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
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/multigres/pgrecover/go/pgrecover/cluster"
)

// FakeMember is one member of a FakeCluster, described the way patronictl
// prints it.
type FakeMember struct {
	Name  string
	Role  string // "Leader", "Replica", "Sync Standby", ...
	State string // "running", "streaming", "stopped", ...
	TL    int
	// LagMB is nil for an unknown lag.
	LagMB *int
	// PodDown makes the pod invisible to ListPods and unreachable by Exec.
	PodDown bool
}

// FakeCall is one command received by a FakeCluster.
type FakeCall struct {
	Pod  string
	Argv []string
}

// Subcommand returns the patronictl subcommand or the binary name.
func (c FakeCall) Subcommand() string { return subcommand(c.Argv) }

// FakeCluster is an in-memory Transport simulating a Patroni cluster.
//
// Mutating patronictl commands change the simulated topology: switchover
// and failover move leadership, reinit and restart leave the member
// running. Responses overrides the result of a subcommand and suppresses
// its effect. Hooks let tests evolve the cluster between polls.
//
// FakeCluster is safe for concurrent use.
type FakeCluster struct {
	mu sync.Mutex

	api     API
	object  string
	scope   string
	members []*FakeMember
	calls   []FakeCall

	// Responses maps a subcommand ("reinit", "switchover", "psql", "df",
	// "sh", ...) to a canned result.
	Responses map[string]ExecResult
	// ExecErrors maps a pod name to a transport error.
	ExecErrors map[string]error
	// ListPodsErr fails ListPods.
	ListPodsErr error
	// OmitScope drops the Cluster column from list output.
	OmitScope bool
	// ShowConfig is returned by show-config.
	ShowConfig string
	// OnList runs before each list is answered; n counts lists from 1.
	OnList func(fc *FakeCluster, n int)
	// OnCommand runs after a mutating command took effect.
	OnCommand func(fc *FakeCluster, call FakeCall)

	lists int
}

var _ Transport = (*FakeCluster)(nil)

// NewFakeCluster returns a fake for the cluster object named object,
// labeled according to api.
func NewFakeCluster(api API, object string, members ...FakeMember) *FakeCluster {
	fc := &FakeCluster{
		api:    api,
		object: object,
		scope:  api.ControlPlaneName(object),
	}
	for i := range members {
		m := members[i]
		fc.members = append(fc.members, &m)
	}
	return fc
}

// MB is a helper for FakeMember.LagMB.
func MB(n int) *int { return &n }

// ListPods implements PodLister.
func (fc *FakeCluster) ListPods(_ context.Context, selector string) ([]Pod, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.ListPodsErr != nil {
		return nil, fc.ListPodsErr
	}
	sel, err := labels.Parse(selector)
	if err != nil {
		return nil, err
	}
	var pods []Pod
	for _, m := range fc.members {
		if m.PodDown {
			continue
		}
		lbls := podLabels(fc.api, fc.object, NormalizeRole(m.Role) == cluster.RoleLeader)
		if !sel.Matches(labels.Set(lbls)) {
			continue
		}
		pods = append(pods, Pod{Name: m.Name, Labels: lbls, Running: true, Ready: NormalizeState(m.State) == cluster.StateRunning})
	}
	return pods, nil
}

// Exec implements Executor.
func (fc *FakeCluster) Exec(ctx context.Context, pod, _ string, argv []string) (ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecResult{}, err
	}
	fc.mu.Lock()
	call := FakeCall{Pod: pod, Argv: slices.Clone(argv)}
	fc.calls = append(fc.calls, call)
	if err, ok := fc.ExecErrors[pod]; ok {
		fc.mu.Unlock()
		return ExecResult{ExitCode: -1}, err
	}
	if m := fc.member(pod); m == nil || m.PodDown {
		fc.mu.Unlock()
		return ExecResult{ExitCode: -1}, fmt.Errorf("pods %q not found", pod)
	}

	sub := call.Subcommand()
	if sub == "list" && fc.OnList != nil {
		fc.lists++
		n := fc.lists
		fc.mu.Unlock()
		fc.OnList(fc, n)
		fc.mu.Lock()
	} else if sub == "list" {
		fc.lists++
	}

	if res, ok := fc.Responses[sub]; ok {
		fc.mu.Unlock()
		return res, nil
	}

	res, mutated := fc.handle(argv)
	hook := fc.OnCommand
	fc.mu.Unlock()
	if mutated && hook != nil {
		hook(fc, call)
	}
	return res, nil
}

// handle answers argv. Must hold mu.
func (fc *FakeCluster) handle(argv []string) (ExecResult, bool) {
	switch subcommand(argv) {
	case "list":
		return ExecResult{Stdout: fc.listJSON()}, false
	case "show-config":
		return ExecResult{Stdout: fc.ShowConfig}, false
	case "switchover", "failover":
		candidate := flagValue(argv, "--candidate")
		target := fc.member(candidate)
		if target == nil {
			return ExecResult{ExitCode: 1, Stderr: "Error: " + candidate + " is not a member of cluster"}, false
		}
		for _, m := range fc.members {
			if NormalizeRole(m.Role) == cluster.RoleLeader {
				m.Role = "Replica"
			}
		}
		target.Role = "Leader"
		target.LagMB = nil
		return ExecResult{Stdout: "Successfully switched over to \"" + candidate + "\""}, true
	case "reinit", "restart":
		if len(argv) < 4 {
			return ExecResult{ExitCode: 2, Stderr: "Error: missing argument"}, false
		}
		if argv[2] != fc.scope {
			return ExecResult{ExitCode: 1, Stderr: "Error: " + argv[3] + " is not a member of cluster " + argv[2]}, false
		}
		m := fc.member(argv[3])
		if m == nil {
			return ExecResult{ExitCode: 1, Stderr: "Error: " + argv[3] + " is not a member of cluster " + argv[2]}, false
		}
		m.State = "running"
		if argv[1] == "reinit" {
			return ExecResult{Stdout: "Success: reinitialize for member " + m.Name}, true
		}
		return ExecResult{Stdout: "Success: restart on member " + m.Name}, true
	case "psql":
		return ExecResult{Stdout: fc.lagRows()}, false
	case "df":
		return ExecResult{Stdout: "Filesystem Size Used Avail Use% Mounted on\n/dev/sdb 10G 4G 6G 40% /pgdata"}, false
	case "sh":
		return ExecResult{}, false
	}
	return ExecResult{ExitCode: 127, Stderr: argv[0] + ": command not found"}, false
}

func (fc *FakeCluster) member(name string) *FakeMember {
	for _, m := range fc.members {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func (fc *FakeCluster) listJSON() string {
	rows := make([]map[string]any, 0, len(fc.members))
	for _, m := range fc.members {
		row := map[string]any{
			"Member": m.Name,
			"Host":   m.Name + "." + fc.object + "-pods",
			"Role":   m.Role,
			"State":  m.State,
			"TL":     m.TL,
		}
		if !fc.OmitScope {
			row["Cluster"] = fc.scope
		}
		switch {
		case NormalizeRole(m.Role) == cluster.RoleLeader:
			row["Lag in MB"] = ""
		case m.LagMB == nil:
			row["Lag in MB"] = "unknown"
		default:
			row["Lag in MB"] = *m.LagMB
		}
		rows = append(rows, row)
	}
	out, _ := json.Marshal(rows)
	return string(out)
}

func (fc *FakeCluster) lagRows() string {
	var lines []string
	for _, m := range fc.members {
		if NormalizeRole(m.Role) == cluster.RoleLeader || m.LagMB == nil {
			continue
		}
		lines = append(lines, m.Name+"|"+strconv.Itoa(*m.LagMB*bytesPerMB))
	}
	return strings.Join(lines, "\n")
}

func flagValue(argv []string, flag string) string {
	for i, a := range argv {
		if a == flag && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}

// Update applies fn to the named member under the lock.
func (fc *FakeCluster) Update(name string, fn func(m *FakeMember)) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if m := fc.member(name); m != nil {
		fn(m)
	}
}

// Scope returns the Patroni scope the fake answers to.
func (fc *FakeCluster) Scope() string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.scope
}

// SetScope changes the Patroni scope, simulating a naming mismatch.
func (fc *FakeCluster) SetScope(scope string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.scope = scope
}

// Calls returns every command received so far.
func (fc *FakeCluster) Calls() []FakeCall {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return slices.Clone(fc.calls)
}

// CallsTo returns the commands whose subcommand is one of subs.
func (fc *FakeCluster) CallsTo(subs ...string) []FakeCall {
	var out []FakeCall
	for _, c := range fc.Calls() {
		if slices.Contains(subs, c.Subcommand()) {
			out = append(out, c)
		}
	}
	return out
}

// MutatingCalls returns switchover, failover, reinit and restart commands.
func (fc *FakeCluster) MutatingCalls() []FakeCall {
	return fc.CallsTo("switchover", "failover", "reinit", "restart")
}

// LeaderName returns the simulated leader, or "".
func (fc *FakeCluster) LeaderName() string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, m := range fc.members {
		if NormalizeRole(m.Role) == cluster.RoleLeader {
			return m.Name
		}
	}
	return ""
}
