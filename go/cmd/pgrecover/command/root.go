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


// Package command implements the pgrecover command line.
package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/multigres/pgrecover/go/pgrecover/config"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
	"github.com/multigres/pgrecover/go/pgrecover/kube"
	"github.com/multigres/pgrecover/go/servenv"
	"github.com/multigres/pgrecover/go/tools/telemetry"
	"github.com/multigres/pgrecover/go/viperutil"
)

const serviceName = "pgrecover"

// transportFactory builds the channel used to list and exec into pods.
type transportFactory func(cfg *config.Config, tel *telemetry.Telemetry, logger *slog.Logger) (controlplane.Transport, error)

// PgRecoverCommand holds the configuration shared by every pgrecover
// command.
type PgRecoverCommand struct {
	reg       *viperutil.Registry
	cfg       *config.Config
	vc        *viperutil.ViperConfig
	lg        *servenv.Logger
	telemetry *telemetry.Telemetry

	fs           afero.Fs
	stdout       io.Writer
	newTransport transportFactory

	// loadErr is reported by the operation instead of aborting the command.
	loadErr  error
	exitCode int
}

// GetRootCommand creates and returns the root command for pgrecover with
// all subcommands.
func GetRootCommand() (*cobra.Command, *PgRecoverCommand) {
	return newRootCommand(telemetry.NewTelemetry())
}

func newRootCommand(tel *telemetry.Telemetry) (*cobra.Command, *PgRecoverCommand) {
	reg := viperutil.NewRegistry()
	pc := &PgRecoverCommand{
		reg:          reg,
		cfg:          config.NewConfig(reg),
		vc:           viperutil.NewViperConfig(reg, serviceName),
		lg:           servenv.NewLogger(reg, tel),
		telemetry:    tel,
		fs:           afero.NewOsFs(),
		stdout:       os.Stdout,
		newTransport: newTransport,
	}

	var span trace.Span

	root := &cobra.Command{
		Use:   serviceName,
		Short: "Recover Patroni-managed PostgreSQL clusters on Kubernetes",
		Long: `pgrecover inspects a Patroni-managed PostgreSQL cluster running on Kubernetes
and, on request, repairs it: it promotes a healthy replica when the leader is
lost, rebuilds replicas that stopped replicating, or performs a rolling restart.

Every run prints a report: narration lines describing what was seen and done,
followed by structured issues. The exit code is 1 when the report holds an
error-severity issue.

Without a subcommand the operation comes from --operation (or OPERATION in the
environment), which suits running pgrecover as a Kubernetes Job.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			pc.loadErr = nil
			if err := pc.vc.LoadConfig(pc.reg); err != nil {
				pc.loadErr = fmt.Errorf("failed to load config: %w", err)
			}
			pc.lg.SetupLogging()

			var err error
			if span, err = pc.telemetry.InitForCommand(cmd, serviceName, true /* startSpan */); err != nil {
				return err
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if span != nil {
				span.End()
			}

			// Flush pending spans and metrics before the process exits.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
			defer cancel()
			if err := pc.telemetry.ShutdownTelemetry(ctx); err != nil {
				return fmt.Errorf("failed to shutdown OpenTelemetry: %w", err)
			}
			return pc.lg.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.runOperation(cmd, pc.cfg.GetOperation())
		},
	}

	pc.cfg.RegisterFlags(root.PersistentFlags())
	pc.vc.RegisterFlags(root.PersistentFlags())
	pc.lg.RegisterFlags(root.PersistentFlags())

	AddOverviewCommand(root, pc)
	AddFailoverCommand(root, pc)
	AddRestartCommand(root, pc)
	AddReinitializeCommand(root, pc)

	return root, pc
}

// ExitCode is the process exit code of the last operation.
func (pc *PgRecoverCommand) ExitCode() int {
	return pc.exitCode
}

// GetLogger returns the configured logger instance
func (pc *PgRecoverCommand) GetLogger() *slog.Logger {
	return pc.lg.GetLogger()
}

// newTransport connects to the cluster with client-go or, when configured,
// through the kubectl binary.
func newTransport(cfg *config.Config, tel *telemetry.Telemetry, logger *slog.Logger) (controlplane.Transport, error) {
	switch cfg.GetTransport() {
	case config.TransportKubectl:
		return kube.NewKubectlClient("", cfg.GetKubeconfig(), cfg.GetContext(), cfg.GetNamespace()), nil
	default:
		return kube.NewClient(cfg.GetKubeconfig(), cfg.GetContext(), cfg.GetNamespace(), logger,
			kube.WithWrapTransport(tel.WrapTransport))
	}
}
