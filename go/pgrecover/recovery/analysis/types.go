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

// Package analysis detects problems in a cluster snapshot and classifies
// command failures.
package analysis

import (
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/report"
)

// CheckName uniquely identifies a health check.
type CheckName string

// ProblemCode identifies the category of problem.
// Multiple checks can return the same ProblemCode.
type ProblemCode string

const (
	ProblemNoLeader         ProblemCode = "NoLeader"
	ProblemMultipleLeaders  ProblemCode = "MultipleLeaders"
	ProblemMemberNotRunning ProblemCode = "MemberNotRunning"
	ProblemReplicaLagging   ProblemCode = "ReplicaLagging"
	ProblemLagUnknown       ProblemCode = "LagUnknown"
	ProblemTimelineMismatch ProblemCode = "TimelineMismatch"
)

// Problem represents a detected issue.
type Problem struct {
	Code        ProblemCode     // Category of problem
	CheckName   CheckName       // Which check detected it
	Member      string          // Affected member, empty for cluster-wide problems
	Severity    report.Severity // How the problem is reported
	Title       string
	Description string
}

// ClusterAnalysis is the input every analyzer examines.
type ClusterAnalysis struct {
	State *cluster.State
	// LagThresholdBytes is the lag above which a replica is unhealthy.
	LagThresholdBytes int64
}
