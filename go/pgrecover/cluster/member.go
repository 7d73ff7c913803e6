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

// Package cluster holds the snapshot model of a replicated PostgreSQL
// cluster as reported by its control plane, and the record of operations
// run against it.
package cluster

import (
	"fmt"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
)

// Role is the role the control plane assigned to a member.
type Role string

const (
	RoleLeader  Role = "Leader"
	RoleReplica Role = "Replica"
)

// LifecycleState is the normalized process state of a member.
type LifecycleState string

const (
	StateRunning  LifecycleState = "running"
	StateStarting LifecycleState = "starting"
	StateStopped  LifecycleState = "stopped"
	StateCrashed  LifecycleState = "crashed"
	StateUnknown  LifecycleState = "unknown"
)

// ErrNoLeader is returned when a snapshot has no single leader.
var ErrNoLeader = mterrors.New(codes.FailedPrecondition, "cluster has no leader")

// Member is one cluster member in a snapshot. Members are values and are
// never mutated after the snapshot is built.
type Member struct {
	Name        string
	Role        Role
	State       LifecycleState
	ClusterName string
	Host        string
	Timeline    int
	// LagBytes is nil when the lag is not known.
	LagBytes *int64
}

// IsLeader reports whether the member holds the leader role.
func (m Member) IsLeader() bool { return m.Role == RoleLeader }

// IsRunning reports whether the member is running.
func (m Member) IsRunning() bool { return m.State == StateRunning }

// Lag returns the lag in bytes and whether it is known.
func (m Member) Lag() (int64, bool) {
	if m.LagBytes == nil {
		return 0, false
	}
	return *m.LagBytes, true
}

// LagString formats the lag for narration.
func (m Member) LagString() string {
	lag, ok := m.Lag()
	if !ok {
		return "unknown"
	}
	return FormatBytes(lag)
}

// WithLag returns a copy of m with the given lag.
func (m Member) WithLag(lag int64) Member {
	m.LagBytes = &lag
	return m
}

// State is an immutable snapshot of the cluster topology.
type State struct {
	// ClusterName is the control-plane cluster name, which may differ from
	// the Kubernetes object name.
	ClusterName string
	Members     []Member
	ObservedAt  time.Time
}

// Member returns the member with the given name.
func (s *State) Member(name string) (Member, bool) {
	for _, m := range s.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// Leaders returns every member with the leader role. A converged cluster
// has exactly one.
func (s *State) Leaders() []Member {
	var out []Member
	for _, m := range s.Members {
		if m.IsLeader() {
			out = append(out, m)
		}
	}
	return out
}

// Leader returns the single leader. Zero or several leaders mean the
// cluster has not converged and ErrNoLeader is returned.
func (s *State) Leader() (Member, error) {
	leaders := s.Leaders()
	switch len(leaders) {
	case 1:
		return leaders[0], nil
	case 0:
		return Member{}, ErrNoLeader
	default:
		names := make([]string, len(leaders))
		for i, l := range leaders {
			names[i] = l.Name
		}
		return Member{}, mterrors.Wrapf(ErrNoLeader, "%d members claim leadership %v", len(leaders), names)
	}
}

// LeaderName returns the single leader's name or "" if there is none.
func (s *State) LeaderName() string {
	leader, err := s.Leader()
	if err != nil {
		return ""
	}
	return leader.Name
}

// Replicas returns the members with the replica role, in listing order.
func (s *State) Replicas() []Member {
	var out []Member
	for _, m := range s.Members {
		if m.Role == RoleReplica {
			out = append(out, m)
		}
	}
	return out
}

// FormatBytes renders a byte count using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
