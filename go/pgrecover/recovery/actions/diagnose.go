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

package actions

import (
	"context"
	"strings"

	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
)

// logErrorLines is how many matching log lines diagnostics keep.
const logErrorLines = 20

// Diagnostics is supplementary evidence gathered from a member that failed
// to recover. Fields hold command output, or a note when the command
// could not run.
type Diagnostics struct {
	DiskUsage   string
	LogErrors   string
	WalReceiver string
}

// Text joins the diagnostics into one block for classification and
// reporting.
func (d Diagnostics) Text() string {
	var sb strings.Builder
	for _, s := range []struct{ title, body string }{
		{"disk usage", d.DiskUsage},
		{"recent log errors", d.LogErrors},
		{"wal receiver", d.WalReceiver},
	} {
		if s.body == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("[" + s.title + "]\n" + s.body)
	}
	return sb.String()
}

// collectDiagnostics runs the read-only diagnostic commands on member's
// pod. Failures are recorded, never returned.
func collectDiagnostics(ctx context.Context, client *controlplane.Client, member string) Diagnostics {
	capture := func(res controlplane.ExecResult, err error) string {
		if err != nil {
			return "unavailable: " + err.Error()
		}
		return strings.TrimSpace(res.Output())
	}
	return Diagnostics{
		DiskUsage:   capture(client.DiskUsage(ctx, member)),
		LogErrors:   capture(client.RecentLogErrors(ctx, member, logErrorLines)),
		WalReceiver: capture(client.WalReceiver(ctx, member)),
	}
}
