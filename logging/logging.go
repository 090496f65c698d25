// Package logging builds the diagnostic logger handed to every component.
//
// The logger is opened once at process start. Without a destination it is a
// no-op; with one, each entry is written straight to the file, so nothing is
// lost if the process exits abruptly. Failures inside the logger are dropped
// and never turn into I/O or protocol failures.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New opens path for appending and returns a logger writing to it, plus a
// close function. An empty path returns a no-op logger.
func New(path, level, name string) (*zap.Logger, func() error, error) {
	if path == "" {
		return zap.NewNop(), func() error { return nil }, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return NewWithWriter(file, level).Named(name).With(zap.Int("pid", os.Getpid())), file.Close, nil
}

// NewWithWriter returns a logger writing console-encoded entries to w.
func NewWithWriter(w io.Writer, level string) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		parseLevel(level),
	)
	return zap.New(core, zap.ErrorOutput(zapcore.AddSync(io.Discard)))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}
