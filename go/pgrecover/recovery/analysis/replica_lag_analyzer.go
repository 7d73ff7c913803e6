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

package analysis

import (
	"fmt"

	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/report"
)

// ReplicaLagAnalyzer detects running replicas whose lag is above the
// threshold, and running replicas whose lag could not be determined.
type ReplicaLagAnalyzer struct{}

var _ Analyzer = (*ReplicaLagAnalyzer)(nil)

func (a *ReplicaLagAnalyzer) Name() CheckName {
	return "ReplicaLag"
}

func (a *ReplicaLagAnalyzer) Analyze(ca *ClusterAnalysis) []Problem {
	var problems []Problem
	for _, m := range ca.State.Replicas() {
		if !m.IsRunning() {
			continue
		}
		lag, ok := m.Lag()
		switch {
		case !ok:
			problems = append(problems, Problem{
				Code:        ProblemLagUnknown,
				CheckName:   a.Name(),
				Member:      m.Name,
				Severity:    report.SeverityInfo,
				Title:       "Replication lag of " + m.Name + " is unknown",
				Description: "Neither Patroni nor pg_stat_replication on the leader reported lag for " + m.Name,
			})
		case lag > ca.LagThresholdBytes:
			problems = append(problems, Problem{
				Code:      ProblemReplicaLagging,
				CheckName: a.Name(),
				Member:    m.Name,
				Severity:  report.SeverityWarning,
				Title:     "Replica " + m.Name + " is lagging",
				Description: fmt.Sprintf("Replica %s lags %s behind the leader, above the %s threshold",
					m.Name, cluster.FormatBytes(lag), cluster.FormatBytes(ca.LagThresholdBytes)),
			})
		}
	}
	return problems
}
