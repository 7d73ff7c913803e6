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


package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/multigres/pgrecover/go/pgrecover"
	"github.com/multigres/pgrecover/go/pgrecover/config"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/pgrecover/inspector"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/actions"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/analysis"
	"github.com/multigres/pgrecover/go/pgrecover/recovery/types"
	"github.com/multigres/pgrecover/go/pgrecover/report"
)

// AddOverviewCommand adds the overview subcommand to the root command
func AddOverviewCommand(root *cobra.Command, pc *PgRecoverCommand) {
	root.AddCommand(&cobra.Command{
		Use:   "overview",
		Short: "Report cluster state and problems without changing anything",
		Long: `Inspect the cluster and report its topology, replication lag and any
problems found. Nothing in the cluster is changed.

Examples:
  pgrecover overview --cluster hippo --namespace postgres
  pgrecover overview --cluster acid-minimal --api-flavor zalando --report-format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.runOperation(cmd, config.OperationOverview)
		},
	})
}

// AddFailoverCommand adds the failover subcommand to the root command
func AddFailoverCommand(root *cobra.Command, pc *PgRecoverCommand) {
	root.AddCommand(&cobra.Command{
		Use:   "failover [member]",
		Short: "Move leadership to a healthy replica",
		Long: `Promote a replica to leader. With a member argument (or --target-member)
that member is promoted; otherwise the first running replica within the lag
threshold is chosen. The new leader is verified before the command reports
success.

Examples:
  pgrecover failover --cluster hippo
  pgrecover failover hippo-instance1-abcd-0 --cluster hippo`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				pc.cfg.SetTargetMember(args[0])
			}
			return pc.runOperation(cmd, config.OperationFailover)
		},
	})
}

// AddRestartCommand adds the restart subcommand to the root command
func AddRestartCommand(root *cobra.Command, pc *PgRecoverCommand) {
	root.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart every member, replicas first and the leader last",
		Long: `Perform a rolling restart of the cluster. Replicas are restarted one at a
time, then the leader. A post-restart check reports members that did not come
back.

Example:
  pgrecover restart --cluster hippo --restart-stabilization 1m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.runOperation(cmd, config.OperationRestart)
		},
	})
}

// AddReinitializeCommand adds the reinitialize subcommand to the root command
func AddReinitializeCommand(root *cobra.Command, pc *PgRecoverCommand) {
	root.AddCommand(&cobra.Command{
		Use:     "reinitialize [member]",
		Aliases: []string{"reinit"},
		Short:   "Rebuild replicas from the leader",
		Long: `Rebuild replicas that are stopped or lag beyond the threshold by recloning
them from the leader. With a member argument (or --target-member) only that
member is rebuilt. Each rebuilt member is watched until it is healthy or the
check budget runs out.

Examples:
  pgrecover reinitialize --cluster hippo --lag-threshold 1GB
  pgrecover reinit hippo-instance1-wxyz-0 --cluster hippo`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				pc.cfg.SetTargetMember(args[0])
			}
			return pc.runOperation(cmd, config.OperationReinitialize)
		},
	})
}

// runOperation runs op, prints the report and records the exit code. Setup
// failures become error issues so a report is printed whatever happens.
func (pc *PgRecoverCommand) runOperation(cmd *cobra.Command, op config.Operation) error {
	pc.cfg.SetOperation(op)

	var res *pgrecover.Result
	if pc.loadErr != nil {
		res = pc.setupFailure(op, "Invalid configuration", pc.loadErr)
	} else if err := pc.cfg.Validate(); err != nil {
		res = pc.setupFailure(op, "Invalid configuration", err)
	} else {
		res = pc.execute(cmd.Context(), op)
	}
	pc.exitCode = res.ExitCode()
	return pc.writeReport(res.Report)
}

// execute wires the control-plane client and runs the orchestrator.
func (pc *PgRecoverCommand) execute(ctx context.Context, op config.Operation) *pgrecover.Result {
	logger := pc.GetLogger()

	api, err := controlplane.LookupAPI(pc.cfg.GetAPIFlavor())
	if err != nil {
		return pc.setupFailure(op, "Invalid configuration", err)
	}
	transport, err := pc.newTransport(pc.cfg, pc.telemetry, logger)
	if err != nil {
		return pc.setupFailure(op, "Cannot connect to Kubernetes", err)
	}
	clientOpts := []controlplane.Option{controlplane.WithExecTimeout(pc.cfg.GetExecTimeout())}
	metrics, err := pgrecover.NewMetrics(pc.telemetry.GetMeterProvider().Meter(serviceName), logger)
	if err != nil {
		logger.WarnContext(ctx, "metrics disabled", "error", err)
	} else {
		clientOpts = append(clientOpts, controlplane.WithCommandObserver(metrics.ObserveCommand))
	}
	client := controlplane.NewClient(transport, api, pc.cfg.GetCluster(), pc.cfg.GetContainer(), logger, clientOpts...)

	env := actions.Env{
		Client:    client,
		Inspector: inspector.New(client, logger),
		Namespace: pc.cfg.GetNamespace(),
		Logger:    logger,
	}
	return pgrecover.NewOrchestrator(pc.cfg, env, metrics).Run(ctx, op)
}

// setupFailure builds the result of a run that never reached the cluster.
func (pc *PgRecoverCommand) setupFailure(op config.Operation, title string, err error) *pgrecover.Result {
	pc.GetLogger().Error("operation setup failed", "operation", op, "error", err)
	rep := report.New(pc.cfg.GetCluster(), pc.cfg.GetNamespace())
	rep.Narrate("Cannot run %s on cluster %s: %v", op, pc.cfg.GetCluster(), err)
	rep.AddIssue(report.SeverityError, title,
		err.Error()+"\nRemediation:\n"+analysis.Failure(types.CauseUnknown, "").Checklist())
	return &pgrecover.Result{Operation: op, Cause: types.CauseUnknown, Report: rep}
}

// writeReport prints the report and, when configured, saves a copy.
func (pc *PgRecoverCommand) writeReport(rep *report.Report) error {
	format := pc.cfg.GetReportFormat()
	if err := rep.Render(pc.stdout, format); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	if path := pc.cfg.GetReportFile(); path != "" {
		if err := rep.WriteFile(pc.fs, path, format); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}
