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

// Package config holds the configuration of a pgrecover run.
package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/actions"
	"github.com/multigres/pgrecover/go/pgrecover/report"
	"github.com/multigres/pgrecover/go/tools/retry"
	"github.com/multigres/pgrecover/go/viperutil"
)

// Operation names a recovery operation.
type Operation string

const (
	OperationOverview     Operation = "overview"
	OperationFailover     Operation = "failover"
	OperationRestart      Operation = "restart"
	OperationReinitialize Operation = "reinitialize"
)

// Operations lists every operation in the order they are documented.
var Operations = []Operation{OperationOverview, OperationFailover, OperationRestart, OperationReinitialize}

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	return "", mterrors.Errorf(codes.InvalidArgument, "unknown operation %q (want overview, failover, restart or reinitialize)", s)
}

// Transport selects how commands are executed inside pods.
type Transport string

const (
	// TransportAPI talks to the Kubernetes API server directly.
	TransportAPI Transport = "api"
	// TransportKubectl shells out to kubectl.
	TransportKubectl Transport = "kubectl"
)

// Config holds the settings of one run.
type Config struct {
	cluster      viperutil.Value[string]
	namespace    viperutil.Value[string]
	kubeContext  viperutil.Value[string]
	kubeconfig   viperutil.Value[string]
	apiFlavor    viperutil.Value[controlplane.Flavor]
	container    viperutil.Value[string]
	operation    viperutil.Value[string]
	targetMember viperutil.Value[string]
	lagThreshold viperutil.Value[ByteSize]

	operationTimeout viperutil.Value[time.Duration]
	execTimeout      viperutil.Value[time.Duration]

	failoverSettleDelay  viperutil.Value[time.Duration]
	failoverPollInterval viperutil.Value[time.Duration]
	failoverPollAttempts viperutil.Value[int]

	reinitPollInterval   viperutil.Value[time.Duration]
	reinitPollAttempts   viperutil.Value[int]
	reinitLagImprovement viperutil.Value[float64]

	restartStabilization viperutil.Value[time.Duration]

	execTransport viperutil.Value[string]
	reportFormat  viperutil.Value[string]
	reportFile    viperutil.Value[string]

	reg *viperutil.Registry
}

// NewConfig creates a new Config with all values registered in reg.
func NewConfig(reg *viperutil.Registry) *Config {
	return &Config{
		cluster: viperutil.Configure(reg, "cluster", viperutil.Options[string]{
			FlagName: "cluster",
			EnvVars:  []string{"PGR_CLUSTER", "OBJECT_NAME"},
		}),
		namespace: viperutil.Configure(reg, "namespace", viperutil.Options[string]{
			Default:  "default",
			FlagName: "namespace",
			EnvVars:  []string{"PGR_NAMESPACE", "NAMESPACE"},
		}),
		kubeContext: viperutil.Configure(reg, "context", viperutil.Options[string]{
			FlagName: "context",
			EnvVars:  []string{"PGR_CONTEXT", "CONTEXT"},
		}),
		kubeconfig: viperutil.Configure(reg, "kubeconfig", viperutil.Options[string]{
			FlagName: "kubeconfig",
			EnvVars:  []string{"KUBECONFIG"},
		}),
		apiFlavor: viperutil.Configure(reg, "api-flavor", viperutil.Options[controlplane.Flavor]{
			Default:  controlplane.FlavorCrunchy,
			FlagName: "api-flavor",
			EnvVars:  []string{"PGR_API_FLAVOR", "OBJECT_API_GROUP"},
			GetFunc:  getFlavor,
		}),
		container: viperutil.Configure(reg, "container", viperutil.Options[string]{
			FlagName: "container",
			EnvVars:  []string{"PGR_CONTAINER", "DATABASE_CONTAINER"},
		}),
		operation: viperutil.Configure(reg, "operation", viperutil.Options[string]{
			Default:  string(OperationOverview),
			FlagName: "operation",
			EnvVars:  []string{"PGR_OPERATION", "OPERATION"},
		}),
		targetMember: viperutil.Configure(reg, "target-member", viperutil.Options[string]{
			FlagName: "target-member",
			EnvVars:  []string{"PGR_TARGET_MEMBER", "TARGET_MEMBER"},
		}),
		lagThreshold: viperutil.Configure(reg, "lag-threshold", viperutil.Options[ByteSize]{
			Default:  100 << 20,
			FlagName: "lag-threshold",
			EnvVars:  []string{"PGR_LAG_THRESHOLD", "LAG_THRESHOLD"},
			GetFunc:  getByteSize,
		}),
		operationTimeout: viperutil.Configure(reg, "operation-timeout", viperutil.Options[time.Duration]{
			Default:  900 * time.Second,
			FlagName: "operation-timeout",
			EnvVars:  []string{"PGR_OPERATION_TIMEOUT"},
		}),
		execTimeout: viperutil.Configure(reg, "exec-timeout", viperutil.Options[time.Duration]{
			Default:  2 * time.Minute,
			FlagName: "exec-timeout",
			EnvVars:  []string{"PGR_EXEC_TIMEOUT"},
		}),
		failoverSettleDelay: viperutil.Configure(reg, "failover-settle-delay", viperutil.Options[time.Duration]{
			Default:  30 * time.Second,
			FlagName: "failover-settle-delay",
		}),
		failoverPollInterval: viperutil.Configure(reg, "failover-poll-interval", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "failover-poll-interval",
		}),
		failoverPollAttempts: viperutil.Configure(reg, "failover-poll-attempts", viperutil.Options[int]{
			Default:  6,
			FlagName: "failover-poll-attempts",
		}),
		reinitPollInterval: viperutil.Configure(reg, "reinit-poll-interval", viperutil.Options[time.Duration]{
			Default:  30 * time.Second,
			FlagName: "reinit-poll-interval",
		}),
		reinitPollAttempts: viperutil.Configure(reg, "reinit-poll-attempts", viperutil.Options[int]{
			Default:  10,
			FlagName: "reinit-poll-attempts",
		}),
		reinitLagImprovement: viperutil.Configure(reg, "reinit-lag-improvement", viperutil.Options[float64]{
			Default:  0.9,
			FlagName: "reinit-lag-improvement",
		}),
		restartStabilization: viperutil.Configure(reg, "restart-stabilization", viperutil.Options[time.Duration]{
			Default:  30 * time.Second,
			FlagName: "restart-stabilization",
		}),
		execTransport: viperutil.Configure(reg, "exec-transport", viperutil.Options[string]{
			Default:  string(TransportAPI),
			FlagName: "exec-transport",
			EnvVars:  []string{"PGR_EXEC_TRANSPORT"},
		}),
		reportFormat: viperutil.Configure(reg, "report-format", viperutil.Options[string]{
			Default:  string(report.FormatText),
			FlagName: "report-format",
			EnvVars:  []string{"PGR_REPORT_FORMAT"},
		}),
		reportFile: viperutil.Configure(reg, "report-file", viperutil.Options[string]{
			FlagName: "report-file",
			EnvVars:  []string{"PGR_REPORT_FILE"},
		}),
		reg: reg,
	}
}

// Getter methods

func (c *Config) GetCluster() string { return c.cluster.Get() }
func (c *Config) GetNamespace() string { return c.namespace.Get() }
func (c *Config) GetContext() string { return c.kubeContext.Get() }
func (c *Config) GetKubeconfig() string { return c.kubeconfig.Get() }
func (c *Config) GetAPIFlavor() controlplane.Flavor { return c.apiFlavor.Get() }
func (c *Config) GetContainer() string { return c.container.Get() }
func (c *Config) GetTargetMember() string { return strings.TrimSpace(c.targetMember.Get()) }
func (c *Config) GetLagThreshold() ByteSize { return c.lagThreshold.Get() }
func (c *Config) GetOperationTimeout() time.Duration { return c.operationTimeout.Get() }
func (c *Config) GetExecTimeout() time.Duration { return c.execTimeout.Get() }
func (c *Config) GetReportFile() string { return c.reportFile.Get() }

// SetOperation overrides the configured operation, as a subcommand does.
func (c *Config) SetOperation(op Operation) { c.operation.Set(string(op)) }

// SetTargetMember overrides the configured target member.
func (c *Config) SetTargetMember(name string) { c.targetMember.Set(name) }

// GetOperation returns the selected operation. Invalid names are caught by
// Validate.
func (c *Config) GetOperation() Operation {
	return Operation(strings.ToLower(strings.TrimSpace(c.operation.Get())))
}

// GetTransport returns the exec transport.
func (c *Config) GetTransport() Transport {
	return Transport(strings.ToLower(strings.TrimSpace(c.execTransport.Get())))
}

// GetReportFormat returns the report format, falling back to text when the
// configured name is invalid. Validate reports the invalid name.
func (c *Config) GetReportFormat() report.Format {
	f, err := report.ParseFormat(c.reportFormat.Get())
	if err != nil {
		return report.FormatText
	}
	return f
}

// Default value methods (for testing)

func (c *Config) DefaultLagThreshold() ByteSize { return c.lagThreshold.Default() }
func (c *Config) DefaultOperationTimeout() time.Duration { return c.operationTimeout.Default() }
func (c *Config) DefaultExecTimeout() time.Duration { return c.execTimeout.Default() }

// FailoverConfig builds the failover executor settings.
func (c *Config) FailoverConfig() actions.FailoverConfig {
	return actions.FailoverConfig{
		LagThresholdBytes: c.GetLagThreshold().Bytes(),
		Verify: retry.PollConfig{
			MaxAttempts: c.failoverPollAttempts.Get(),
			Interval:    c.failoverPollInterval.Get(),
			SettleDelay: c.failoverSettleDelay.Get(),
		},
	}
}

// ReinitConfig builds the reinitialize executor settings.
func (c *Config) ReinitConfig() actions.ReinitConfig {
	return actions.ReinitConfig{
		LagThresholdBytes: c.GetLagThreshold().Bytes(),
		LagImprovement:    c.reinitLagImprovement.Get(),
		Verify: retry.PollConfig{
			MaxAttempts: c.reinitPollAttempts.Get(),
			Interval:    c.reinitPollInterval.Get(),
		},
	}
}

// RestartConfig builds the restart coordinator settings.
func (c *Config) RestartConfig() actions.RestartConfig {
	return actions.RestartConfig{Stabilization: c.restartStabilization.Get()}
}

// Validate checks the configuration before any remote call is made.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.GetCluster()) == "" {
		problems = append(problems, "cluster is required")
	}
	if strings.TrimSpace(c.GetNamespace()) == "" {
		problems = append(problems, "namespace is required")
	}
	if _, err := controlplane.ParseFlavor(string(c.GetAPIFlavor())); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := ParseOperation(c.operation.Get()); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := report.ParseFormat(c.reportFormat.Get()); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.GetTransport() {
	case TransportAPI, TransportKubectl:
	default:
		problems = append(problems, fmt.Sprintf("unknown exec transport %q (want api or kubectl)", c.execTransport.Get()))
	}
	if _, err := unmarshalByteSize(c.reg.Viper(), c.lagThreshold.Key()); err != nil {
		problems = append(problems, fmt.Sprintf("lag-threshold: %v", err))
	} else if c.GetLagThreshold() <= 0 {
		problems = append(problems, "lag-threshold must be positive")
	}
	for _, d := range []viperutil.Value[time.Duration]{c.operationTimeout, c.execTimeout} {
		if d.Get() <= 0 {
			problems = append(problems, d.Key()+" must be positive")
		}
	}
	for _, d := range []viperutil.Value[time.Duration]{c.failoverSettleDelay, c.failoverPollInterval, c.reinitPollInterval, c.restartStabilization} {
		if d.Get() < 0 {
			problems = append(problems, d.Key()+" cannot be negative")
		}
	}
	for _, n := range []viperutil.Value[int]{c.failoverPollAttempts, c.reinitPollAttempts} {
		if n.Get() <= 0 {
			problems = append(problems, n.Key()+" must be positive")
		}
	}
	if f := c.reinitLagImprovement.Get(); f <= 0 || f > 1 {
		problems = append(problems, fmt.Sprintf("reinit-lag-improvement must be in (0, 1], got %v", f))
	}
	if len(problems) > 0 {
		return mterrors.Errorf(codes.InvalidArgument, "invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RegisterFlags registers the config flags with pflag.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("cluster", c.cluster.Default(), "name of the PostgreSQL cluster custom resource")
	fs.String("namespace", c.namespace.Default(), "namespace of the cluster")
	fs.String("context", c.kubeContext.Default(), "kubeconfig context to use")
	fs.String("kubeconfig", c.kubeconfig.Default(), "path to the kubeconfig file")
	fs.String("api-flavor", string(c.apiFlavor.Default()), "operator flavor: crunchy or zalando (API group names are accepted)")
	fs.String("container", c.container.Default(), "container running Patroni (empty means the flavor default)")
	fs.String("operation", c.operation.Default(), "operation to run: overview, failover, restart or reinitialize")
	fs.String("target-member", c.targetMember.Default(), "member to promote or reinitialize")
	fs.String("lag-threshold", "100MiB", "replication lag above which a replica is unhealthy (e.g. 104857600, 100MB, 1GB)")
	fs.Duration("operation-timeout", c.operationTimeout.Default(), "wall-clock budget of the whole operation")
	fs.Duration("exec-timeout", c.execTimeout.Default(), "timeout of a single remote command")
	fs.Duration("failover-settle-delay", c.failoverSettleDelay.Default(), "wait after a switchover before the first leadership check")
	fs.Duration("failover-poll-interval", c.failoverPollInterval.Default(), "interval between leadership checks")
	fs.Int("failover-poll-attempts", c.failoverPollAttempts.Default(), "number of leadership checks")
	fs.Duration("reinit-poll-interval", c.reinitPollInterval.Default(), "interval between health checks of a reinitialized member")
	fs.Int("reinit-poll-attempts", c.reinitPollAttempts.Default(), "number of health checks of a reinitialized member")
	fs.Float64("reinit-lag-improvement", c.reinitLagImprovement.Default(), "fractional lag reduction that counts as progress")
	fs.Duration("restart-stabilization", c.restartStabilization.Default(), "wait after each member restart")
	fs.String("exec-transport", c.execTransport.Default(), "how to run commands in pods: api or kubectl")
	fs.String("report-format", c.reportFormat.Default(), "report format: text, json or yaml")
	fs.String("report-file", c.reportFile.Default(), "also write the report to this file")

	viperutil.BindFlags(fs,
		c.cluster,
		c.namespace,
		c.kubeContext,
		c.kubeconfig,
		c.apiFlavor,
		c.container,
		c.operation,
		c.targetMember,
		c.lagThreshold,
		c.operationTimeout,
		c.execTimeout,
		c.failoverSettleDelay,
		c.failoverPollInterval,
		c.failoverPollAttempts,
		c.reinitPollInterval,
		c.reinitPollAttempts,
		c.reinitLagImprovement,
		c.restartStabilization,
		c.execTransport,
		c.reportFormat,
		c.reportFile,
	)
}

// getByteSize yields 0 for values that do not parse; Validate reports them.
func getByteSize(v *viper.Viper) func(key string) ByteSize {
	return func(key string) ByteSize {
		b, err := unmarshalByteSize(v, key)
		if err != nil {
			slog.Warn(fmt.Sprintf("failed to unmarshal %s: %s", key, err.Error()))
			return 0
		}
		return b
	}
}

func unmarshalByteSize(v *viper.Viper, key string) (b ByteSize, err error) {
	err = v.UnmarshalKey(key, &b, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(decodeByteSize)))
	return b, err
}

// getFlavor normalizes API group names to flavors. An unknown name is
// returned as given so Validate can report it.
func getFlavor(v *viper.Viper) func(key string) controlplane.Flavor {
	return func(key string) controlplane.Flavor {
		var f controlplane.Flavor
		if err := v.UnmarshalKey(key, &f, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(decodeFlavor))); err != nil {
			return controlplane.Flavor(fmt.Sprint(v.Get(key)))
		}
		return f
	}
}

func decodeFlavor(from, to reflect.Type, data any) (any, error) {
	var f controlplane.Flavor
	if to != reflect.TypeOf(f) || from.Kind() != reflect.String {
		return data, nil
	}
	return controlplane.ParseFlavor(reflect.ValueOf(data).String())
}

// NewTestConfig creates a Config for testing with optional custom values.
func NewTestConfig(opts ...func(*Config)) *Config {
	reg := viperutil.NewRegistry()
	cfg := NewConfig(reg)
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithCluster sets the cluster name for testing.
func WithCluster(name string) func(*Config) {
	return func(cfg *Config) {
		cfg.cluster.Set(name)
	}
}

// WithNamespace sets the namespace for testing.
func WithNamespace(ns string) func(*Config) {
	return func(cfg *Config) {
		cfg.namespace.Set(ns)
	}
}

// WithAPIFlavor sets the operator flavor for testing.
func WithAPIFlavor(f controlplane.Flavor) func(*Config) {
	return func(cfg *Config) {
		cfg.apiFlavor.Set(f)
	}
}

// WithOperation sets the operation for testing.
func WithOperation(op Operation) func(*Config) {
	return func(cfg *Config) {
		cfg.operation.Set(string(op))
	}
}

// WithTargetMember sets the target member for testing.
func WithTargetMember(name string) func(*Config) {
	return func(cfg *Config) {
		cfg.targetMember.Set(name)
	}
}

// WithLagThreshold sets the lag threshold for testing.
func WithLagThreshold(b ByteSize) func(*Config) {
	return func(cfg *Config) {
		cfg.lagThreshold.Set(b)
	}
}

// WithLagThresholdString sets the lag threshold as it would arrive from a
// flag or environment variable.
func WithLagThresholdString(s string) func(*Config) {
	return func(cfg *Config) {
		cfg.reg.Viper().Set(cfg.lagThreshold.Key(), s)
	}
}

// WithOperationTimeout sets the operation timeout for testing.
func WithOperationTimeout(d time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.operationTimeout.Set(d)
	}
}

// WithNoWaits zeroes every settle and poll interval so tests run without
// sleeping.
func WithNoWaits() func(*Config) {
	return func(cfg *Config) {
		cfg.failoverSettleDelay.Set(0)
		cfg.failoverPollInterval.Set(0)
		cfg.reinitPollInterval.Set(0)
		cfg.restartStabilization.Set(0)
	}
}

// WithPollAttempts sets the failover and reinitialize check budgets for
// testing.
func WithPollAttempts(failover, reinit int) func(*Config) {
	return func(cfg *Config) {
		cfg.failoverPollAttempts.Set(failover)
		cfg.reinitPollAttempts.Set(reinit)
	}
}

// WithReportFormat sets the report format for testing.
func WithReportFormat(f report.Format) func(*Config) {
	return func(cfg *Config) {
		cfg.reportFormat.Set(string(f))
	}
}

// WithReportFile sets the report file for testing.
func WithReportFile(path string) func(*Config) {
	return func(cfg *Config) {
		cfg.reportFile.Set(path)
	}
}

// WithTransport sets the exec transport for testing.
func WithTransport(t Transport) func(*Config) {
	return func(cfg *Config) {
		cfg.execTransport.Set(string(t))
	}
}
