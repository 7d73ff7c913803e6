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
	"strings"

	"github.com/multigres/pgrecover/go/pgrecover/report"
)

// LeaderAnalyzer detects a cluster with zero or several leaders.
type LeaderAnalyzer struct{}

var _ Analyzer = (*LeaderAnalyzer)(nil)

func (a *LeaderAnalyzer) Name() CheckName {
	return "Leader"
}

func (a *LeaderAnalyzer) Analyze(ca *ClusterAnalysis) []Problem {
	leaders := ca.State.Leaders()
	switch len(leaders) {
	case 1:
		return nil
	case 0:
		return []Problem{{
			Code:      ProblemNoLeader,
			CheckName: a.Name(),
			Severity:  report.SeverityError,
			Title:     "No leader in cluster " + ca.State.ClusterName,
			Description: fmt.Sprintf("None of the %d members of %s holds the leader role; the cluster does not accept writes",
				len(ca.State.Members), ca.State.ClusterName),
		}}
	default:
		names := make([]string, len(leaders))
		for i, l := range leaders {
			names[i] = l.Name
		}
		return []Problem{{
			Code:        ProblemMultipleLeaders,
			CheckName:   a.Name(),
			Severity:    report.SeverityError,
			Title:       "Multiple leaders in cluster " + ca.State.ClusterName,
			Description: "Members " + strings.Join(names, ", ") + " all report the leader role",
		}}
	}
}
