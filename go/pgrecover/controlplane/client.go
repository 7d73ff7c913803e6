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

package controlplane

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
)

var tracer = otel.Tracer("pgrecover/controlplane")

// CommandObserver is notified after every remote command.
type CommandObserver func(ctx context.Context, subcommand string, exitCode int, err error)

// Client runs patronictl and psql in the database container of one
// cluster's pods.
type Client struct {
	transport   Transport
	api         API
	cluster     string
	container   string
	execTimeout time.Duration
	logger      *slog.Logger
	observer    CommandObserver
}

// Option configures a Client.
type Option func(*Client)

// WithExecTimeout bounds every remote command. Zero means only the
// caller's context applies.
func WithExecTimeout(d time.Duration) Option {
	return func(c *Client) { c.execTimeout = d }
}

// WithCommandObserver registers a callback run after each command.
func WithCommandObserver(o CommandObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient returns a client for the cluster object named cluster. An
// empty container selects the flavor default.
func NewClient(transport Transport, api API, clusterName, container string, logger *slog.Logger, opts ...Option) *Client {
	if container == "" {
		container = api.DefaultContainer()
	}
	c := &Client{
		transport: transport,
		api:       api,
		cluster:   clusterName,
		container: container,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// API returns the flavor conventions in use.
func (c *Client) API() API { return c.api }

// ClusterObject returns the Kubernetes object name of the cluster.
func (c *Client) ClusterObject() string { return c.cluster }

// DefaultScope is the Patroni scope assumed when list output omits it.
func (c *Client) DefaultScope() string { return c.api.ControlPlaneName(c.cluster) }

// Exec runs argv on pod and returns the raw result. Non-zero exits are not
// errors here.
func (c *Client) Exec(ctx context.Context, pod string, argv []string) (ExecResult, error) {
	sub := subcommand(argv)
	ctx, span := tracer.Start(ctx, "controlplane.exec "+sub, trace.WithAttributes(
		attribute.String("pod", pod),
		attribute.String("container", c.container),
	))
	defer span.End()

	if c.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.execTimeout)
		defer cancel()
	}

	c.logger.DebugContext(ctx, "exec", "pod", pod, "container", c.container, "argv", strings.Join(argv, " "))
	res, err := c.transport.Exec(ctx, pod, c.container, argv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = mterrors.Wrapf(err, "exec %s on %s", sub, pod)
	} else {
		span.SetAttributes(attribute.Int("exit_code", res.ExitCode))
	}
	if c.observer != nil {
		c.observer(ctx, sub, res.ExitCode, err)
	}
	return res, err
}

// Run is Exec with a non-zero exit turned into a *CommandError.
func (c *Client) Run(ctx context.Context, pod string, argv []string) (ExecResult, error) {
	res, err := c.Exec(ctx, pod, argv)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &CommandError{Pod: pod, Argv: argv, Result: res}
	}
	return res, nil
}

// Pods lists the cluster's pods, leader-labeled pods first, then the rest
// in the order the transport returned them. Pods that are not running are
// dropped.
func (c *Client) Pods(ctx context.Context) ([]Pod, error) {
	pods, err := c.transport.ListPods(ctx, c.api.PodSelector(c.cluster))
	if err != nil {
		return nil, mterrors.Wrapf(err, "failed to list pods for cluster %s", c.cluster)
	}
	var leaders, others []Pod
	for _, p := range pods {
		if !p.Running {
			continue
		}
		if c.api.IsLeaderPod(p.Labels) {
			leaders = append(leaders, p)
		} else {
			others = append(others, p)
		}
	}
	return append(leaders, others...), nil
}

// List runs patronictl list on pod.
func (c *Client) List(ctx context.Context, pod string) ([]cluster.Member, string, error) {
	res, err := c.Run(ctx, pod, ListCommand())
	if err != nil {
		return nil, "", err
	}
	members, scope, err := ParseList(res.Stdout)
	if err != nil {
		return nil, "", err
	}
	if scope == "" {
		scope = c.DefaultScope()
	}
	return members, scope, nil
}

// ReplicationLag queries pg_stat_replication on the leader pod.
func (c *Client) ReplicationLag(ctx context.Context, leaderPod string, names []string) (map[string]int64, error) {
	res, err := c.Run(ctx, leaderPod, LagQueryCommand(names))
	if err != nil {
		return nil, err
	}
	return ParseLagRows(res.Stdout), nil
}

// Reinit rebuilds member. The command runs on the member's own pod: the
// Patroni agent there keeps running while PostgreSQL is down.
func (c *Client) Reinit(ctx context.Context, scope, member string) (ExecResult, error) {
	return c.Run(ctx, member, ReinitCommand(scope, member))
}

// Restart restarts PostgreSQL on member.
func (c *Client) Restart(ctx context.Context, scope, member string) (ExecResult, error) {
	return c.Run(ctx, member, RestartCommand(scope, member))
}

// Switchover asks the running leader to hand over to candidate.
func (c *Client) Switchover(ctx context.Context, scope, leader, candidate string) (ExecResult, error) {
	return c.Run(ctx, candidate, SwitchoverCommand(scope, leader, candidate))
}

// Failover promotes candidate without the leader's cooperation.
func (c *Client) Failover(ctx context.Context, scope, candidate string) (ExecResult, error) {
	return c.Run(ctx, candidate, FailoverCommand(scope, candidate))
}

// ShowConfig reads the dynamic configuration through pod.
func (c *Client) ShowConfig(ctx context.Context, pod, scope string) (DynamicConfig, error) {
	res, err := c.Run(ctx, pod, ShowConfigCommand(scope))
	if err != nil {
		return DynamicConfig{}, err
	}
	return ParseShowConfig(res.Stdout)
}

// DiskUsage reports the data volume usage on pod.
func (c *Client) DiskUsage(ctx context.Context, pod string) (ExecResult, error) {
	return c.Exec(ctx, pod, []string{"df", "-h", c.api.DataDir()})
}

// RecentLogErrors returns recent PostgreSQL log lines mentioning errors.
func (c *Client) RecentLogErrors(ctx context.Context, pod string, lines int) (ExecResult, error) {
	script := "ls -1t " + c.api.LogGlob() + " 2>/dev/null | head -n 1 | xargs -r tail -n 500 | " +
		"grep -iE 'error|fatal|panic|could not|no space' | tail -n " + strconv.Itoa(lines)
	return c.Exec(ctx, pod, []string{"sh", "-c", script})
}

// WalReceiver reports the replication connection state on pod.
func (c *Client) WalReceiver(ctx context.Context, pod string) (ExecResult, error) {
	return c.Exec(ctx, pod, WalReceiverCommand())
}

// subcommand names a command for logs and metrics: "patronictl reinit"
// becomes "reinit".
func subcommand(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	if argv[0] == patronictl && len(argv) > 1 {
		return argv[1]
	}
	return argv[0]
}
