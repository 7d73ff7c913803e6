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

package cluster

import (
	"time"

	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
)

// OperationKind is the kind of mutating operation.
type OperationKind string

const (
	OperationFailover     OperationKind = "Failover"
	OperationReinitialize OperationKind = "Reinitialize"
	OperationRestart      OperationKind = "Restart"
)

// OperationStatus is the lifecycle of an Operation. Succeeded and Failed
// are terminal.
type OperationStatus string

const (
	StatusPending   OperationStatus = "Pending"
	StatusRunning   OperationStatus = "Running"
	StatusVerifying OperationStatus = "Verifying"
	StatusSucceeded OperationStatus = "Succeeded"
	StatusFailed    OperationStatus = "Failed"
)

// Operation records one mutating operation. Only the executor that created
// it moves it between states.
type Operation struct {
	Kind       OperationKind
	Target     string
	Status     OperationStatus
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time

	// Cause and Err are set when Status is Failed.
	Cause types.Cause
	Err   error
}

// NewOperation returns a pending operation.
func NewOperation(kind OperationKind, target string, now time.Time) *Operation {
	return &Operation{Kind: kind, Target: target, Status: StatusPending, StartedAt: now}
}

// Done reports whether the operation reached a terminal state.
func (o *Operation) Done() bool {
	return o.Status == StatusSucceeded || o.Status == StatusFailed
}

// Start moves a pending operation to Running.
func (o *Operation) Start() {
	o.transition(StatusRunning)
}

// Verify moves a running operation to Verifying.
func (o *Operation) Verify() {
	o.transition(StatusVerifying)
}

// Succeed ends the operation successfully.
func (o *Operation) Succeed(now time.Time) {
	if o.transition(StatusSucceeded) {
		o.FinishedAt = now
	}
}

// Fail ends the operation with a cause.
func (o *Operation) Fail(cause types.Cause, err error, now time.Time) {
	if o.transition(StatusFailed) {
		o.Cause = cause
		o.Err = err
		o.FinishedAt = now
	}
}

// transition applies next unless the operation is already terminal.
func (o *Operation) transition(next OperationStatus) bool {
	if o.Done() {
		return false
	}
	o.Status = next
	return true
}

// Duration is the time between start and finish, or zero while running.
func (o *Operation) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
