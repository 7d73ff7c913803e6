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

package kube

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc/codes"
	corev1 "k8s.io/api/core/v1"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/tools/executil"
)

// KubectlClient is a controlplane.Transport that shells out to kubectl.
// It is used where the in-process client cannot authenticate, e.g. with
// exec credential plugins that are only configured for kubectl.
type KubectlClient struct {
	binary     string
	kubeconfig string
	context    string
	namespace  string
}

var _ controlplane.Transport = (*KubectlClient)(nil)

// NewKubectlClient returns a client running binary (default "kubectl").
func NewKubectlClient(binary, kubeconfig, kubeContext, namespace string) *KubectlClient {
	if binary == "" {
		binary = "kubectl"
	}
	if namespace == "" {
		namespace = "default"
	}
	return &KubectlClient{binary: binary, kubeconfig: kubeconfig, context: kubeContext, namespace: namespace}
}

// globalArgs are the connection flags shared by every invocation.
func (k *KubectlClient) globalArgs() []string {
	args := []string{"--namespace", k.namespace}
	if k.context != "" {
		args = append(args, "--context", k.context)
	}
	if k.kubeconfig != "" {
		args = append(args, "--kubeconfig", k.kubeconfig)
	}
	return args
}

// ListPods implements controlplane.PodLister.
func (k *KubectlClient) ListPods(ctx context.Context, selector string) ([]controlplane.Pod, error) {
	args := append(k.globalArgs(), "get", "pods", "--selector", selector, "--output", "json")
	res, err := executil.Command(ctx, k.binary, args...).Capture()
	if err != nil {
		return nil, mterrors.Wrap(err, "failed to run kubectl get pods")
	}
	if res.ExitCode != 0 {
		return nil, mterrors.Errorf(codes.Unavailable, "kubectl get pods exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	var list corev1.PodList
	if err := json.Unmarshal([]byte(res.Stdout), &list); err != nil {
		return nil, mterrors.WithCode(codes.Internal, err, "failed to decode kubectl pod list")
	}
	pods := make([]controlplane.Pod, 0, len(list.Items))
	for i := range list.Items {
		pods = append(pods, podFromObject(&list.Items[i]))
	}
	return pods, nil
}

// Exec implements controlplane.Executor. kubectl exits with the remote
// command's exit code, so a non-zero exit is reported as a result.
func (k *KubectlClient) Exec(ctx context.Context, pod, container string, argv []string) (controlplane.ExecResult, error) {
	args := append(k.globalArgs(), "exec", pod, "--container", container, "--")
	args = append(args, argv...)
	res, err := executil.Command(ctx, k.binary, args...).Capture()
	if err != nil {
		return controlplane.ExecResult{ExitCode: -1}, mterrors.Wrap(err, "failed to run kubectl exec")
	}
	if isKubectlError(res) {
		return controlplane.ExecResult{ExitCode: -1}, mterrors.Errorf(codes.Unavailable, "kubectl exec into %s failed: %s", pod, strings.TrimSpace(res.Stderr))
	}
	return controlplane.ExecResult{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
}

// isKubectlError tells a failure of kubectl itself (pod or container not
// found, API unreachable) from a remote command exiting non-zero.
func isKubectlError(res executil.Result) bool {
	if res.ExitCode == 0 {
		return false
	}
	return strings.HasPrefix(res.Stderr, "Error from server") ||
		strings.HasPrefix(res.Stderr, "error: unable to upgrade connection") ||
		strings.Contains(res.Stderr, "error: error loading config file") ||
		strings.HasPrefix(res.Stderr, "The connection to the server")
}
