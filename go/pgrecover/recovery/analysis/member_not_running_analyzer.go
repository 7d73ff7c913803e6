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

// MemberNotRunningAnalyzer detects members whose PostgreSQL is not
// running. A starting member is a warning; stopped, crashed and unknown
// members are errors.
type MemberNotRunningAnalyzer struct{}

var _ Analyzer = (*MemberNotRunningAnalyzer)(nil)

func (a *MemberNotRunningAnalyzer) Name() CheckName {
	return "MemberNotRunning"
}

func (a *MemberNotRunningAnalyzer) Analyze(ca *ClusterAnalysis) []Problem {
	var problems []Problem
	for _, m := range ca.State.Members {
		if m.IsRunning() {
			continue
		}
		severity := report.SeverityError
		if m.State == cluster.StateStarting {
			severity = report.SeverityWarning
		}
		problems = append(problems, Problem{
			Code:        ProblemMemberNotRunning,
			CheckName:   a.Name(),
			Member:      m.Name,
			Severity:    severity,
			Title:       fmt.Sprintf("Member %s is %s", m.Name, m.State),
			Description: fmt.Sprintf("%s %s of cluster %s is in state %s", m.Role, m.Name, ca.State.ClusterName, m.State),
		})
	}
	return problems
}
