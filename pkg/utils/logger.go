package utils

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a console zap logger on stderr. Stdout is reserved for
// command output so that JSON results can be piped.
func NewLogger(debug bool) (*zap.Logger, error) {
	return NewLoggerWithWriter(debug, os.Stderr), nil
}

// NewLoggerWithWriter builds a logger that writes to w. Debug enables the
// debug level and caller annotations.
func NewLoggerWithWriter(debug bool, w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	if debug {
		return zap.New(core, zap.AddCaller())
	}
	return zap.New(core)
}
