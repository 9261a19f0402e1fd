// Package logging builds the process-wide zap logger: pretty console
// output in development, structured JSON in production.
package logging

import (
	"os"
	"time"

	"github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// shortTimeEncoder encodes time in HH:MM:SS format for console output.
func shortTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05"))
}

// New builds a logger. json selects structured JSON output; otherwise a
// human-readable console encoder is used.
func New(json bool) *zap.Logger {
	return NewWithOutput(json, os.Stdout)
}

// NewWithOutput is the same as New but writes to an arbitrary sink, used
// by tests that want to capture log output.
func NewWithOutput(json bool, output zapcore.WriteSyncer) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var core zapcore.Core
	if json {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), output, zap.DebugLevel)
	} else {
		pcfg := prettyconsole.NewEncoderConfig()
		pcfg.EncodeTime = shortTimeEncoder
		core = zapcore.NewCore(prettyconsole.NewEncoder(pcfg), output, zap.DebugLevel)
	}
	return zap.New(core)
}

// ForLevel returns a leveled core so `LOG_LEVEL=warn` etc. from config can
// raise the minimum level without recompiling the encoder setup above.
func ForLevel(base *zap.Logger, level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return base
	}
	return base.WithOptions(zap.IncreaseLevel(lvl))
}
