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

package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestReport() *Report {
	return New("hippo", "pg").WithClock(func() time.Time { return fixedNow })
}

func TestReport_MergeKeepsOrder(t *testing.T) {
	parent := newTestReport()
	parent.Narrate("inspecting %s", "hippo")
	parent.AddIssue(SeverityInfo, "first", "a")

	child := newTestReport()
	child.Narrate("failover to %s", "pg-1")
	child.AddIssue(SeverityWarning, "second", "b")

	parent.Merge(child)
	parent.Merge(nil)

	assert.Equal(t, []string{"inspecting hippo", "failover to pg-1"}, parent.Narration())
	issues := parent.Issues()
	require.Len(t, issues, 2)
	assert.Equal(t, "first", issues[0].Title)
	assert.Equal(t, "second", issues[1].Title)
	assert.Equal(t, "hippo", issues[1].Cluster)
	assert.Equal(t, "pg", issues[1].Namespace)
	assert.Equal(t, fixedNow, issues[1].Timestamp)
}

func TestReport_ExitCode(t *testing.T) {
	r := newTestReport()
	assert.Equal(t, 0, r.ExitCode())
	r.AddIssue(SeverityWarning, "lag", "replica lagging")
	assert.False(t, r.HasErrors())
	assert.Equal(t, 0, r.ExitCode())
	r.AddIssue(SeverityError, "no leader", "cluster has no leader")
	assert.True(t, r.HasErrors())
	assert.Equal(t, 1, r.ExitCode())
}

func TestReport_AccessorsReturnCopies(t *testing.T) {
	r := newTestReport()
	r.Narrate("one")
	lines := r.Narration()
	lines[0] = "changed"
	assert.Equal(t, []string{"one"}, r.Narration())
}

func TestRender_TextContainsNarrationAndIssueArray(t *testing.T) {
	r := newTestReport()
	r.Narrate("Leader: pg-0")
	r.AddIssue(SeverityError, "Failover rejected", "leader unchanged")

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, FormatText))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Leader: pg-0\n"))

	idx := strings.Index(out, "[")
	require.Positive(t, idx)
	var issues []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[idx:]), &issues))
	require.Len(t, issues, 1)
	assert.ElementsMatch(t,
		[]string{"title", "description", "severity", "cluster", "namespace", "timestamp"},
		keys(issues[0]))
	assert.Equal(t, "error", issues[0]["severity"])
}

func TestRender_EmptyReportUsesEmptyArrays(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newTestReport().Render(&buf, FormatJSON))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, []any{}, doc["issues"])
	assert.Equal(t, []any{}, doc["narration"])
}

func TestRender_YAML(t *testing.T) {
	r := newTestReport()
	r.Narrate("restarting pg-1")
	r.AddIssue(SeverityWarning, "Member not running", "pg-2 is starting")

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, FormatYAML))
	var doc document
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, []string{"restarting pg-1"}, doc.Narration)
	require.Len(t, doc.Issues, 1)
	assert.Equal(t, SeverityWarning, doc.Issues[0].Severity)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"TEXT", FormatText, false},
		{"json", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestReport()
	r.AddIssue(SeverityInfo, "Lag unknown", "pg-2 lag not reported")

	require.NoError(t, r.WriteFile(fs, "/reports/hippo.json", FormatJSON))
	data, err := afero.ReadFile(fs, "/reports/hippo.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"title": "Lag unknown"`)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
