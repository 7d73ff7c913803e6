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

// Package kube implements the remote-exec transport to database pods on
// Kubernetes, either in process through client-go or through a local
// kubectl binary.
package kube

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/tools/retry"
)

// listAttempts bounds retries of transient API errors when listing pods.
const listAttempts = 4

// executorFactory builds the streaming executor for an exec URL.
type executorFactory func(config *rest.Config, method string, u *url.URL) (remotecommand.Executor, error)

// Client is a controlplane.Transport backed by client-go.
type Client struct {
	clientset   kubernetes.Interface
	config      *rest.Config
	namespace   string
	logger      *slog.Logger
	newExecutor executorFactory
}

var _ controlplane.Transport = (*Client)(nil)

// ClientOption adjusts the REST config before the clientset is built.
type ClientOption func(*rest.Config)

// WithWrapTransport layers fn over the HTTP transport of every API call,
// including exec streams.
func WithWrapTransport(fn func(http.RoundTripper) http.RoundTripper) ClientOption {
	return func(c *rest.Config) { c.Wrap(fn) }
}

// NewClient loads kubeconfig (empty means the default loading rules) and
// selects kubeContext (empty means the current context).
func NewClient(kubeconfig, kubeContext, namespace string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	config, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, mterrors.WithCode(codes.InvalidArgument, err, "failed to load kubeconfig")
	}
	config.Timeout = 30 * time.Second
	for _, opt := range opts {
		opt(config)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, mterrors.WithCode(codes.Internal, err, "failed to create kubernetes client")
	}

	if namespace == "" {
		namespace, _, _ = kubeConfig.Namespace()
	}
	return NewClientFromClientset(clientset, config, namespace, logger), nil
}

// NewClientFromClientset wraps an existing clientset.
func NewClientFromClientset(clientset kubernetes.Interface, config *rest.Config, namespace string, logger *slog.Logger) *Client {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &Client{
		clientset:   clientset,
		config:      config,
		namespace:   namespace,
		logger:      logger,
		newExecutor: remotecommand.NewSPDYExecutor,
	}
}

// Namespace returns the namespace the client operates in.
func (c *Client) Namespace() string { return c.namespace }

// ListPods implements controlplane.PodLister. Transient API errors are
// retried with backoff; everything else is returned as is.
func (c *Client) ListPods(ctx context.Context, selector string) ([]controlplane.Pod, error) {
	r := retry.New(200*time.Millisecond, 2*time.Second)
	var lastErr error
	for attempt, err := range r.Attempts(ctx) {
		if err != nil {
			if lastErr != nil {
				return nil, mterrors.Wrap(lastErr, "failed to list pods")
			}
			return nil, err
		}
		list, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err == nil {
			pods := make([]controlplane.Pod, 0, len(list.Items))
			for i := range list.Items {
				pods = append(pods, podFromObject(&list.Items[i]))
			}
			return pods, nil
		}
		lastErr = err
		if !isTransient(err) || attempt >= listAttempts {
			return nil, classifyAPIError(err)
		}
		c.logger.WarnContext(ctx, "transient error listing pods, retrying",
			"selector", selector, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

// Exec implements controlplane.Executor over the pods/exec subresource.
func (c *Client) Exec(ctx context.Context, pod, container string, argv []string) (controlplane.ExecResult, error) {
	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(c.namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   argv,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := c.newExecutor(c.config, "POST", req.URL())
	if err != nil {
		return controlplane.ExecResult{ExitCode: -1}, mterrors.WithCode(codes.Internal, err, "failed to create exec stream")
	}
	return streamResult(ctx, executor)
}

// streamResult runs the stream and maps a remote exit status onto
// ExecResult instead of an error.
func streamResult(ctx context.Context, executor remotecommand.Executor) (controlplane.ExecResult, error) {
	var stdout, stderr bytes.Buffer
	err := executor.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: &stdout, Stderr: &stderr})
	res := controlplane.ExecResult{
		Stdout: strings.TrimRight(stdout.String(), "\r\n"),
		Stderr: strings.TrimRight(stderr.String(), "\r\n"),
	}
	if err == nil {
		return res, nil
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	res.ExitCode = -1
	return res, classifyAPIError(err)
}

func podFromObject(p *corev1.Pod) controlplane.Pod {
	pod := controlplane.Pod{
		Name:    p.Name,
		Labels:  p.Labels,
		Running: p.Status.Phase == corev1.PodRunning && p.DeletionTimestamp == nil,
	}
	for _, cond := range p.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			pod.Ready = true
		}
	}
	return pod
}

func isTransient(err error) bool {
	return apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err)
}

// classifyAPIError maps Kubernetes API errors onto error codes.
func classifyAPIError(err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return mterrors.WithCode(codes.NotFound, err, "not found")
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return mterrors.WithCode(codes.PermissionDenied, err, "access denied by the Kubernetes API")
	case isTransient(err):
		return mterrors.WithCode(codes.Unavailable, err, "Kubernetes API unavailable")
	}
	return mterrors.Wrap(err, "Kubernetes API request failed")
}

