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

// Package report accumulates the narration and issues produced during one
// run and renders them.
//
// A Report is an explicit value: every executor owns one and returns it,
// and the caller merges them in order. Nothing here makes decisions.
package report

import (
	"fmt"
	"time"
)

// Severity of an Issue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one structured finding. The JSON field names are consumed by
// the runbook renderer and must not change.
type Issue struct {
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Severity    Severity  `json:"severity" yaml:"severity"`
	Cluster     string    `json:"cluster" yaml:"cluster"`
	Namespace   string    `json:"namespace" yaml:"namespace"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

// Report is an append-only log of narration lines and issues.
type Report struct {
	cluster   string
	namespace string
	now       func() time.Time

	narration []string
	issues    []Issue
}

// New returns an empty report whose issues are stamped with cluster and
// namespace.
func New(cluster, namespace string) *Report {
	return &Report{cluster: cluster, namespace: namespace, now: time.Now}
}

// WithClock replaces the clock used to timestamp issues.
func (r *Report) WithClock(now func() time.Time) *Report {
	r.now = now
	return r
}

// Narrate appends a formatted narration line.
func (r *Report) Narrate(format string, args ...any) {
	r.narration = append(r.narration, fmt.Sprintf(format, args...))
}

// AddIssue appends an issue.
func (r *Report) AddIssue(severity Severity, title, description string) {
	r.issues = append(r.issues, Issue{
		Title:       title,
		Description: description,
		Severity:    severity,
		Cluster:     r.cluster,
		Namespace:   r.namespace,
		Timestamp:   r.now().UTC(),
	})
}

// Merge appends everything from other, keeping its order. A nil other is a
// no-op.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.narration = append(r.narration, other.narration...)
	r.issues = append(r.issues, other.issues...)
}

// Narration returns a copy of the narration lines.
func (r *Report) Narration() []string {
	return append([]string(nil), r.narration...)
}

// Issues returns a copy of the issues.
func (r *Report) Issues() []Issue {
	return append([]Issue(nil), r.issues...)
}

// HasErrors reports whether any issue has error severity.
func (r *Report) HasErrors() bool {
	for _, issue := range r.issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ExitCode is 1 if the report has an error-severity issue and 0 otherwise.
func (r *Report) ExitCode() int {
	if r.HasErrors() {
		return 1
	}
	return 0
}
