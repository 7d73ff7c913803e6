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

// Package coordinator chooses the replica to promote during a failover.
package coordinator

import (
	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
)

// ErrNoSuitableCandidate is returned when no replica may be promoted.
var ErrNoSuitableCandidate = mterrors.New(codes.FailedPrecondition, "no suitable failover candidate")

// Ineligibility returns why m cannot be promoted, or "" if it can. A
// member named exclude is never eligible. A replica with unknown lag is
// eligible; the control plane applies its own lag limit on promotion.
func Ineligibility(m cluster.Member, exclude string, thresholdBytes int64) string {
	switch {
	case m.Name == exclude:
		return "is the current leader"
	case m.Role != cluster.RoleReplica:
		return "is not a replica"
	case !m.IsRunning():
		return "is " + string(m.State)
	}
	if lag, ok := m.Lag(); ok && lag >= thresholdBytes {
		return "lags " + cluster.FormatBytes(lag) + ", threshold is " + cluster.FormatBytes(thresholdBytes)
	}
	return ""
}

// Eligible reports whether m may be promoted.
func Eligible(m cluster.Member, exclude string, thresholdBytes int64) bool {
	return Ineligibility(m, exclude, thresholdBytes) == ""
}

// SelectCandidate returns the first eligible replica in listing order.
//
// TODO: rank eligible replicas by lag and zone once a priority function is
// agreed on; listing order is kept until then.
func SelectCandidate(state *cluster.State, exclude string, thresholdBytes int64) (string, error) {
	for _, m := range state.Members {
		if Eligible(m, exclude, thresholdBytes) {
			return m.Name, nil
		}
	}
	return "", mterrors.Wrapf(ErrNoSuitableCandidate,
		"none of %d replicas of %s is running with lag below %s",
		len(state.Replicas()), state.ClusterName, cluster.FormatBytes(thresholdBytes))
}

// ValidateCandidate checks an explicitly requested candidate.
func ValidateCandidate(state *cluster.State, name, exclude string, thresholdBytes int64) error {
	m, ok := state.Member(name)
	if !ok {
		return mterrors.Wrapf(ErrNoSuitableCandidate, "%s is not a member of cluster %s", name, state.ClusterName)
	}
	if reason := Ineligibility(m, exclude, thresholdBytes); reason != "" {
		return mterrors.Wrapf(ErrNoSuitableCandidate, "%s %s", name, reason)
	}
	return nil
}
