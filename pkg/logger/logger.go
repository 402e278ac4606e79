// Package logger provides opinionated logging capabilities for repcoach
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	json   bool
	output io.Writer
}

// Option customizes NewLogger.
type Option func(*options)

// WithJSON switches to a JSON encoder, for the relay running under a log collector.
func WithJSON() Option {
	return func(o *options) { o.json = true }
}

// WithOutput redirects log output. The CLI logs to stderr so stdout only
// carries the coach's reply.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

func NewLogger(debug bool, opts ...Option) *zap.Logger {
	o := &options{output: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if o.json {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	// Set log level
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(o.output),
		level,
	)

	return zap.New(core, zap.AddCaller())
}
