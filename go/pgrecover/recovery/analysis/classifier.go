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
	"strings"

	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
)

// Rule maps command output to a cause. Patterns are lowercase substrings.
// A rule matches when every All pattern and at least one Any pattern (if
// any are given) occur in the text.
type Rule struct {
	Cause types.Cause
	All   []string
	Any   []string
}

func (r Rule) matches(lower string) bool {
	for _, p := range r.All {
		if !strings.Contains(lower, p) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return true
	}
	for _, p := range r.Any {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// rules is evaluated in order; the first match wins.
var rules = []Rule{
	{Cause: types.CauseClusterNameMismatch, Any: []string{"not a member of cluster"}},
	{Cause: types.CauseAlreadyRunning, Any: []string{"already running"}},
	{Cause: types.CauseConnectionRefused, Any: []string{"connection refused", "could not connect"}},
	{Cause: types.CauseTimelineDiverged, All: []string{"timeline", "diverged"}},
	{Cause: types.CauseWalMissing, All: []string{"wal"}, Any: []string{"not found", "missing segment"}},
	{Cause: types.CauseDiskFull, Any: []string{"disk full", "no space"}},
	{Cause: types.CausePermissionDenied, Any: []string{"permission denied", "access denied"}},
}

// Rules returns a copy of the classification table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify maps raw command output to a cause with its remediation
// checklist. Text that matches no rule is classified as Unknown. Evidence
// is the first line that matches the rule on its own, or the first
// non-empty line.
func Classify(text string) types.FailureCause {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if r.matches(lower) {
			return types.FailureCause{
				Cause:       r.Cause,
				Evidence:    evidence(text, r.matches),
				Remediation: Remediation(r.Cause),
			}
		}
	}
	return types.FailureCause{
		Cause:       types.CauseUnknown,
		Evidence:    evidence(text, func(string) bool { return true }),
		Remediation: Remediation(types.CauseUnknown),
	}
}

func evidence(text string, match func(lower string) bool) string {
	first := ""
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		if match(strings.ToLower(line)) {
			return line
		}
	}
	return first
}
