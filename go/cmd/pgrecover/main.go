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


// pgrecover diagnoses and repairs Patroni-managed PostgreSQL clusters on
// Kubernetes. It prints a report and exits non-zero when the report holds
// an error.
package main

import (
	"log/slog"
	"os"

	"github.com/multigres/pgrecover/go/cmd/pgrecover/command"
)

func main() {
	root, pc := command.GetRootCommand()
	if err := root.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
	os.Exit(pc.ExitCode())
}
