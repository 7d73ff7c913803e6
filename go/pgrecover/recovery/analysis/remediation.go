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
	"slices"

	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
)

// remediations holds the ordered checklist for every cause.
var remediations = map[types.Cause][]string{
	types.CauseClusterNameMismatch: {
		"Read the Patroni scope from the Cluster column of `patronictl list`",
		"Check that the member belongs to the cluster object being recovered",
		"Retry the operation against the scope Patroni reports",
	},
	types.CauseAlreadyRunning: {
		"Wait for the operation already running on the member to finish",
		"Check `patronictl list` for a member stuck in a starting or restarting state",
		"Retry once the member is idle",
	},
	types.CauseConnectionRefused: {
		"Check that PostgreSQL and the Patroni agent are running on the member",
		"Verify network policies allow traffic between cluster members",
		"Check that the leader accepts replication connections in pg_hba.conf",
	},
	types.CauseTimelineDiverged: {
		"Confirm the member does not hold writes missing from the leader before discarding its data",
		"Reinitialize the member from the current leader",
		"Enable use_pg_rewind in the Patroni configuration to rewind instead of rebuilding",
	},
	types.CauseWalMissing: {
		"Check that the WAL archive is reachable from the member",
		"Retain more WAL on the leader with wal_keep_size or a replication slot",
		"Reinitialize the member from a fresh base backup",
	},
	types.CauseDiskFull: {
		"Free disk space on the member's data volume or expand its persistent volume",
		"Remove old WAL and log files only after confirming they are archived",
		"Retry the reinitialize once volume usage is below 80%",
	},
	types.CausePermissionDenied: {
		"Check that the data directory is owned by postgres with mode 0700",
		"Verify the Kubernetes service account may exec into the pod",
		"Check the replication user's credentials and pg_hba.conf entries",
	},
	types.CauseUnknown: {
		"Inspect the member's PostgreSQL and Patroni logs",
		"Check member status with `patronictl list`",
		"Retry the command manually with verbose output",
	},
	types.CauseNoSuitableCandidate: {
		"Wait for a replica to catch up below the lag threshold",
		"Reinitialize lagging replicas",
		"Raise the lag threshold only if losing the missing transactions is acceptable",
	},
	types.CauseFailoverRejected: {
		"Compare replica lag with maximum_lag_on_failover in `patronictl show-config`",
		"Check the Patroni logs on the leader and the candidate for the rejection reason",
		"Retry the failover once a replica is within the lag limit",
	},
	types.CauseTimeout: {
		"Check `patronictl list` to see how far the operation progressed",
		"Raise the operation timeout if members are slow to start",
		"Retry the operation",
	},
	types.CauseNotConverged: {
		"Check that the member streams from the leader (pg_stat_wal_receiver)",
		"Inspect the member's PostgreSQL logs for replication errors",
		"Run the reinitialize again once the cause is resolved",
	},
	types.CauseNoRunningMember: {
		"Check pod status with `kubectl get pods` for the cluster",
		"Inspect events and logs of the database pods",
		"Restore at least one running member before retrying",
	},
	types.CauseNoLeader: {
		"Check `patronictl list` for a member holding the leader lock",
		"Inspect the Patroni logs for leader election failures",
		"Run a failover to a healthy replica",
	},
}

// Remediation returns the checklist for cause. Causes without a dedicated
// entry get the Unknown checklist.
func Remediation(cause types.Cause) []string {
	steps, ok := remediations[cause]
	if !ok {
		steps = remediations[types.CauseUnknown]
	}
	return slices.Clone(steps)
}

// Failure builds a FailureCause for causes assigned by the executors.
func Failure(cause types.Cause, evidence string) types.FailureCause {
	return types.FailureCause{Cause: cause, Evidence: evidence, Remediation: Remediation(cause)}
}
