// Package logging builds the zap loggers used by the bootstrap and the tool.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects level, encoding and destination.
type Options struct {
	Level  string // debug, info, warn, error; empty means warn
	Format string // console or json; empty means console
	Output zapcore.WriteSyncer
}

// New returns a logger built from the production encoder config, writing to
// opts.Output or stderr.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch opts.Format {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log format %q: want console or json", opts.Format)
	}

	out := opts.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}
	return zap.New(zapcore.NewCore(enc, out, zap.NewAtomicLevelAt(level))), nil
}

// Verbose returns a copy of opts at debug level when verbose is set.
func (opts Options) Verbose(verbose bool) Options {
	if verbose {
		opts.Level = "debug"
	}
	return opts
}
