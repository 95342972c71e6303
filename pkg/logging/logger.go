// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunLogName is the file name of the per-run log inside a run directory.
const RunLogName = "fetch.log"

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// File receives a JSON copy of every log line when set (the run's fetch.log).
	File io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}

	// The run log always stays JSON so it can be grepped after the fact.
	if cfg.File != nil {
		out = zerolog.MultiLevelWriter(out, cfg.File)
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// OpenRunLog opens (appending) the fetch.log of a run directory, creating the
// directory when needed. The caller closes the file.
func OpenRunLog(runDir string) (*os.File, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(runDir, RunLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return f, nil
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow and internal state
//   - GraphQL request variant and schema version chosen
//   - Rate governor waits
//   - Checkpoint writes
//
// Info: normal operation
//   - Run created / resumed, preflight passed
//   - Series fetched successfully
//   - Progress checkpoints (rate, ETA)
//   - Export summaries
//
// Warn: degraded but continuing
//   - Retry scheduled after a transient failure
//   - Permanent failure of a single series
//   - Data-integrity issues found during projection
//
// Error: operator attention required
//   - Credential rejected, run aborted
//   - Checkpoint store failures
//
// Context Fields:
//   - run_id: checkpoint run name
//   - series_id: GRID series identifier
//   - attempt: attempt number for the series
//   - variant: GraphQL query variant (version, full)
//   - status_code: HTTP status code
//   - error_class: network, timeout, http_4xx, http_5xx, graphql_error, rate_limited, unauthorized
//   - backoff: delay before the next attempt
//   - duration: request or run duration
