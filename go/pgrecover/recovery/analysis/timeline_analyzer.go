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

	"github.com/multigres/pgrecover/go/pgrecover/report"
)

// TimelineAnalyzer detects replicas on a different timeline than the
// leader, which usually means they missed a promotion.
type TimelineAnalyzer struct{}

var _ Analyzer = (*TimelineAnalyzer)(nil)

func (a *TimelineAnalyzer) Name() CheckName {
	return "Timeline"
}

func (a *TimelineAnalyzer) Analyze(ca *ClusterAnalysis) []Problem {
	leader, err := ca.State.Leader()
	if err != nil || leader.Timeline == 0 {
		return nil
	}
	var problems []Problem
	for _, m := range ca.State.Replicas() {
		if m.Timeline == 0 || m.Timeline == leader.Timeline {
			continue
		}
		problems = append(problems, Problem{
			Code:      ProblemTimelineMismatch,
			CheckName: a.Name(),
			Member:    m.Name,
			Severity:  report.SeverityWarning,
			Title:     "Member " + m.Name + " is on another timeline",
			Description: fmt.Sprintf("%s is on timeline %d while leader %s is on timeline %d",
				m.Name, m.Timeline, leader.Name, leader.Timeline),
		})
	}
	return problems
}
