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

// Package controlplane talks to the Patroni control plane running inside
// the database pods. It is the only package that issues remote commands.
//
// A Transport runs argv in a container and returns stdout, stderr and the
// exit code without interpreting them. Client layers the patronictl
// protocol on top: building argv, parsing output, and turning non-zero
// exits into *CommandError values for the classifier.
package controlplane

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
)

// ErrNoRunningMember is returned when no member pod can be reached.
var ErrNoRunningMember = mterrors.New(codes.Unavailable, "no running cluster member")

// Pod is a database pod as seen by the transport.
type Pod struct {
	Name    string
	Labels  map[string]string
	Running bool
	Ready   bool
}

// ExecResult is the raw outcome of a remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns stderr and stdout joined, for classification.
func (r ExecResult) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	}
	return r.Stderr + "\n" + r.Stdout
}

// Executor runs a command in a container of a pod.
//
// Exec returns an error only if the command could not be run at all (pod
// missing, stream broken, context done). A command that ran and exited
// non-zero is reported through ExecResult.ExitCode with a nil error.
// Implementations never retry.
type Executor interface {
	Exec(ctx context.Context, pod, container string, argv []string) (ExecResult, error)
}

// PodLister lists the pods matching a label selector.
type PodLister interface {
	ListPods(ctx context.Context, selector string) ([]Pod, error)
}

// Transport is the remote-exec channel to the database pods.
type Transport interface {
	Executor
	PodLister
}

// CommandError is a remote command that ran and exited non-zero.
type CommandError struct {
	Pod    string
	Argv   []string
	Result ExecResult
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Result.Output())
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("command %q on %s exited with code %d: %s",
		strings.Join(e.Argv, " "), e.Pod, e.Result.ExitCode, msg)
}
