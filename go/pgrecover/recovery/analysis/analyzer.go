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

// Analyzer examines a ClusterAnalysis and detects problems.
type Analyzer interface {
	// Name returns the unique name of this analyzer.
	Name() CheckName

	// Analyze returns the problems found, in member order.
	Analyze(a *ClusterAnalysis) []Problem
}

// DefaultAnalyzers returns the analyzers run by the overview operation,
// cluster-wide checks first.
func DefaultAnalyzers() []Analyzer {
	return []Analyzer{
		&LeaderAnalyzer{},
		&MemberNotRunningAnalyzer{},
		&ReplicaLagAnalyzer{},
		&TimelineAnalyzer{},
	}
}

// Analyze runs analyzers in order and concatenates their problems.
func Analyze(a *ClusterAnalysis, analyzers ...Analyzer) []Problem {
	if len(analyzers) == 0 {
		analyzers = DefaultAnalyzers()
	}
	var problems []Problem
	for _, an := range analyzers {
		problems = append(problems, an.Analyze(a)...)
	}
	return problems
}
