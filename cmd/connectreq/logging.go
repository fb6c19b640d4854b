package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// parseLevel maps a level name to a zap level. logr verbosity V(n) is
// logged at zap level -n, so "debug" enables V(1) and "trace" enables V(2).
func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return zapcore.Level(-2), nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid log level %q", level)
}

// newLogger builds a console logger writing to w. The returned function
// flushes buffered entries.
func newLogger(level string, w io.Writer) (logr.Logger, func(), error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return logr.Discard(), func() {}, err
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(lvl),
	)
	zl := zap.New(core)
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
