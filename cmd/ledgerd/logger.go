// logger.go - Structured logging for the ledger daemon
package main

import (
	"fmt"
	"io"
	"os"

	gnarklog "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Logger wraps the process logger with its files and the audit trail
type Logger struct {
	zerolog.Logger
	audit zerolog.Logger
	files []*os.File
}

// warnFilter passes warn-and-above records to the audit file
type warnFilter struct {
	w io.Writer
}

func (f warnFilter) Write(p []byte) (int, error) { return f.w.Write(p) }

func (f warnFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return f.w.Write(p)
}

// NewLogger creates the process logger. Unknown levels fall back to info.
func NewLogger(level string, logFile string, auditFile string) (*Logger, error) {
	// Parse log level
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	logger := &Logger{audit: zerolog.Nop()}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}}

	// Setup file logging if specified
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.files = append(logger.files, file)
		writers = append(writers, file)
	}

	// Setup audit logging if specified
	if auditFile != "" {
		file, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		logger.files = append(logger.files, file)
		writers = append(writers, warnFilter{w: file})
		logger.audit = zerolog.New(file).With().Timestamp().Str("stream", "audit").Logger()
	}

	logger.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().Timestamp().
		Logger()

	// gnark logs circuit compilation and setup through the same sink
	gnarklog.Set(logger.With().Str("component", "gnark").Logger())
	return logger, nil
}

// Close closes the logger's files
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

// Audit logs an audit event regardless of level
func (l *Logger) Audit(event string, details map[string]interface{}) {
	l.audit.Log().Str("event", event).Fields(details).Msg("audit")
}
