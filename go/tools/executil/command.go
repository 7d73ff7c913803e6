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

// Package executil runs local subprocesses (kubectl) with graceful
// termination, explicit environment handling and trace propagation.
//
// Commands are bound to a context. When that context ends the process gets
// SIGTERM and, after the grace period, SIGKILL, so kubectl can tear down
// its exec stream to the remote container instead of leaving it running.
//
// # Example
//
//	res, err := executil.Command(ctx, "kubectl", "get", "pods", "-o", "json").
//	    AddEnv("KUBECONFIG=" + path).
//	    Capture()
package executil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// DefaultGracePeriod is the time to wait after SIGTERM before escalating to SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// DefaultKillTimeout bounds the wait for a process to exit after SIGKILL.
const DefaultKillTimeout = 5 * time.Second

var tracer = otel.Tracer("pgrecover/executil")

// Cmd wraps exec.Cmd with a builder for safe configuration.
// Create with Command() or CommandWithGracePeriod().
type Cmd struct {
	*exec.Cmd
	parentCtx          context.Context
	defaultGracePeriod time.Duration
	extraEnv           []string

	terminateOnce sync.Once
	terminated    chan struct{} // closed when Terminate() is called
	waitDone      chan struct{} // closed when Wait() completes
	waitErr       error
	waitOnce      sync.Once
}

// Result is the captured outcome of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Command creates a new Cmd with graceful termination support.
//
// By default, the command inherits the parent process environment.
// Use AddEnv() to add variables, or SetEnv() to replace the entire environment.
func Command(ctx context.Context, name string, args ...string) *Cmd {
	return CommandWithGracePeriod(ctx, DefaultGracePeriod, name, args...)
}

// CommandWithGracePeriod creates a Cmd with a custom grace period between
// SIGTERM and SIGKILL when ctx is cancelled.
func CommandWithGracePeriod(ctx context.Context, gracePeriod time.Duration, name string, args ...string) *Cmd {
	return &Cmd{
		Cmd:                exec.Command(name, args...),
		parentCtx:          ctx,
		defaultGracePeriod: gracePeriod,
		terminated:         make(chan struct{}),
		waitDone:           make(chan struct{}),
	}
}

// AddEnv adds "KEY=value" variables on top of the inherited environment
// (or the explicit base if SetEnv was called).
func (c *Cmd) AddEnv(keyvals ...string) *Cmd {
	c.extraEnv = append(c.extraEnv, keyvals...)
	return c
}

// SetEnv replaces the entire environment with the provided variables.
func (c *Cmd) SetEnv(env []string) *Cmd {
	c.Cmd.Env = env
	return c
}

// SetStdin sets the stdin for the command.
func (c *Cmd) SetStdin(r io.Reader) *Cmd {
	c.Cmd.Stdin = r
	return c
}

// traceparent returns the TRACEPARENT variable for the span in ctx, if any.
func traceparent(ctx context.Context) string {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	if tp := carrier.Get("traceparent"); tp != "" {
		return "TRACEPARENT=" + tp
	}
	return ""
}

func (c *Cmd) finalizeEnv() {
	if envVar := traceparent(c.parentCtx); envVar != "" {
		c.extraEnv = append(c.extraEnv, envVar)
	}
	if len(c.extraEnv) == 0 {
		return
	}
	if c.Cmd.Env == nil {
		c.Cmd.Env = os.Environ()
	}
	c.Cmd.Env = append(c.Cmd.Env, c.extraEnv...)
}

// Start starts the command without waiting for it to complete. If the
// parent context is cancelled the process is terminated.
func (c *Cmd) Start() error {
	c.finalizeEnv()
	if err := c.Cmd.Start(); err != nil {
		return err
	}

	go func() {
		select {
		case <-c.parentCtx.Done():
			// The parent is already done; termination needs its own clock.
			termCtx, termCancel := context.WithTimeout(context.WithoutCancel(c.parentCtx), c.defaultGracePeriod)
			_, exited := c.Terminate(termCtx)
			termCancel()
			if !exited {
				killCtx, killCancel := context.WithTimeout(context.WithoutCancel(c.parentCtx), DefaultKillTimeout)
				_, _ = c.Kill(killCtx)
				killCancel()
			}
		case <-c.terminated:
		case <-c.waitDone:
		}
	}()

	return nil
}

// Wait waits for the command to exit and returns its exit status.
// Safe to call multiple times or concurrently.
func (c *Cmd) Wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.Cmd.Wait()
		close(c.waitDone)
	})
	<-c.waitDone
	return c.waitErr
}

// Terminate sends SIGTERM and waits for the process to exit.
//
// Returns (exitErr, true) if the process exited before ctx expired,
// (nil, false) otherwise.
func (c *Cmd) Terminate(ctx context.Context) (error, bool) {
	if c.terminated == nil {
		panic("executil: Terminate called on Cmd not created via Command()")
	}

	c.terminateOnce.Do(func() {
		close(c.terminated)
		if c.Process != nil {
			_ = c.Process.Signal(syscall.SIGTERM)
		}
	})

	go func() { _ = c.Wait() }()

	select {
	case <-c.waitDone:
		return c.waitErr, true
	case <-ctx.Done():
		return nil, false
	}
}

// Kill sends SIGKILL and waits for the process to exit.
func (c *Cmd) Kill(ctx context.Context) (error, bool) {
	if c.Process != nil {
		_ = c.Process.Kill()
	}

	go func() { _ = c.Wait() }()

	select {
	case <-c.waitDone:
		return c.waitErr, true
	case <-ctx.Done():
		return ctx.Err(), false
	}
}

// Capture runs the command to completion and returns its output and exit
// code. A non-zero exit is not an error: err is set only when the process
// could not be started or was interrupted by the parent context.
func (c *Cmd) Capture() (Result, error) {
	ctx, span := tracer.Start(c.parentCtx, "exec "+c.Cmd.Path)
	defer span.End()
	c.parentCtx = ctx

	var stdout, stderr bytes.Buffer
	c.Cmd.Stdout = &stdout
	c.Cmd.Stderr = &stderr
	if err := c.Start(); err != nil {
		return Result{ExitCode: -1}, err
	}
	err := c.Wait()

	res := Result{
		Stdout:   strings.TrimRight(stdout.String(), "\n"),
		Stderr:   strings.TrimRight(stderr.String(), "\n"),
		ExitCode: c.ProcessState.ExitCode(),
	}
	if ctxErr := c.parentCtx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, err
	}
	return res, nil
}
