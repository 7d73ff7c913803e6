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
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
)

// NeedsReinit reports whether m should be reinitialized: it is not
// running, or it is a replica lagging above thresholdBytes. The leader
// never needs a reinit.
func NeedsReinit(m cluster.Member, thresholdBytes int64) bool {
	if m.IsLeader() {
		return false
	}
	if !m.IsRunning() {
		return true
	}
	lag, ok := m.Lag()
	return ok && lag > thresholdBytes
}

// ReinitCandidates returns the members needing a reinit, in listing order.
func ReinitCandidates(state *cluster.State, thresholdBytes int64) []cluster.Member {
	var out []cluster.Member
	for _, m := range state.Members {
		if NeedsReinit(m, thresholdBytes) {
			out = append(out, m)
		}
	}
	return out
}
