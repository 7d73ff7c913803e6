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

// Package servenv holds the process environment shared by commands:
// logging setup driven by viperutil-registered flags.
package servenv

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/pflag"

	"github.com/multigres/pgrecover/go/tools/telemetry"
	"github.com/multigres/pgrecover/go/viperutil"
)

// Logger builds the process logger from the log-level, log-format and
// log-output values.
type Logger struct {
	logLevel  viperutil.Value[string]
	logFormat viperutil.Value[string]
	logOutput viperutil.Value[string]

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerMu   sync.Mutex

	// closer is set when logs go to a file.
	closer io.Closer

	telemetry *telemetry.Telemetry
}

// NewLogger registers the logging values in reg. When tel is not nil the
// handler is wrapped so records carry trace context and reach the
// OpenTelemetry log exporter.
func NewLogger(reg *viperutil.Registry, tel *telemetry.Telemetry) *Logger {
	return &Logger{
		telemetry: tel,
		logLevel: viperutil.Configure(reg, "log-level", viperutil.Options[string]{
			Default:  "info",
			FlagName: "log-level",
			EnvVars:  []string{"PGR_LOG_LEVEL"},
		}),
		logFormat: viperutil.Configure(reg, "log-format", viperutil.Options[string]{
			Default:  "text",
			FlagName: "log-format",
			EnvVars:  []string{"PGR_LOG_FORMAT"},
		}),
		// stdout carries the report, so logs default to stderr.
		logOutput: viperutil.Configure(reg, "log-output", viperutil.Options[string]{
			Default:  "stderr",
			FlagName: "log-output",
			EnvVars:  []string{"PGR_LOG_OUTPUT"},
		}),
	}
}

// RegisterFlags registers logging-related command line flags.
// This must be called before ParseFlags if using the logging system.
func (lg *Logger) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", lg.logLevel.Default(), "Log level (debug, info, warn, error)")
	fs.String("log-format", lg.logFormat.Default(), "Log format (json, text)")
	fs.String("log-output", lg.logOutput.Default(), "Log output (stdout, stderr, or file path)")
	viperutil.BindFlags(fs, lg.logLevel, lg.logFormat, lg.logOutput)
}

// SetupLogging initializes the logger based on the configured values.
// This should be called after flags are parsed but before any logging occurs.
// Later calls return the logger built by the first one.
func (lg *Logger) SetupLogging() *slog.Logger {
	lg.loggerOnce.Do(func() {
		levelStr := lg.logLevel.Get()
		level := parseLevel(levelStr)

		outputStr := lg.logOutput.Get()
		var output io.Writer
		switch strings.ToLower(outputStr) {
		case "", "stderr":
			output = os.Stderr
		case "stdout":
			output = os.Stdout
		default:
			file, err := os.OpenFile(outputStr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				// Fall back to stderr if the file cannot be opened.
				output = os.Stderr
			} else {
				output = file
				lg.closer = file
			}
		}

		formatStr := lg.logFormat.Get()
		handler := newHandler(output, formatStr, level)
		if lg.telemetry != nil {
			handler = lg.telemetry.WrapSlogHandler(handler)
		}
		newLogger := slog.New(handler)
		slog.SetDefault(newLogger)

		lg.loggerMu.Lock()
		lg.logger = newLogger
		lg.loggerMu.Unlock()

		newLogger.Debug("logging initialized",
			"level", levelStr,
			"format", formatStr,
			"output", outputStr,
		)
	})
	return lg.GetLogger()
}

// GetLogger returns the configured logger instance, or slog.Default if
// SetupLogging has not run yet.
func (lg *Logger) GetLogger() *slog.Logger {
	lg.loggerMu.Lock()
	defer lg.loggerMu.Unlock()
	if lg.logger == nil {
		return slog.Default()
	}
	return lg.logger
}

// Close releases the log file, if logging to one.
func (lg *Logger) Close() error {
	if lg.closer == nil {
		return nil
	}
	return lg.closer.Close()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
