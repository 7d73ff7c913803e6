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

// Package types holds the failure taxonomy shared by the classifier and the
// recovery actions.
package types

import (
	"strconv"
	"strings"
)

// Cause identifies why an operation or a member recovery failed.
type Cause string

// Causes derived from command output by the classifier.
const (
	CauseClusterNameMismatch Cause = "ClusterNameMismatch"
	CauseAlreadyRunning      Cause = "AlreadyRunning"
	CauseConnectionRefused   Cause = "ConnectionRefused"
	CauseTimelineDiverged    Cause = "TimelineDiverged"
	CauseWalMissing          Cause = "WalMissing"
	CauseDiskFull            Cause = "DiskFull"
	CausePermissionDenied    Cause = "PermissionDenied"
	CauseUnknown             Cause = "Unknown"
)

// Causes assigned by the executors themselves.
const (
	CauseNone                Cause = ""
	CauseNoSuitableCandidate Cause = "NoSuitableCandidate"
	CauseFailoverRejected    Cause = "FailoverRejected"
	CauseTimeout             Cause = "Timeout"
	CauseNoRunningMember     Cause = "NoRunningMember"
	CauseNoLeader            Cause = "NoLeader"
	// CauseNotConverged marks a member whose reinit command succeeded but
	// that never reached a healthy state within the poll budget.
	CauseNotConverged Cause = "NotConverged"
)

// FailureCause is the classified reason for a failure together with the
// text it was derived from and an ordered remediation checklist.
type FailureCause struct {
	Cause       Cause
	Evidence    string
	Remediation []string
}

// Checklist renders the remediation steps as a numbered list.
func (f FailureCause) Checklist() string {
	var sb strings.Builder
	for i, step := range f.Remediation {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(step)
	}
	return sb.String()
}

