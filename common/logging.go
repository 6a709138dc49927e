// Package common contains helpers shared by all binaries.
package common

import (
	"log/slog"
	"os"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

type LoggingOpts struct {
	// Debug enables debug-level logging.
	Debug bool

	// JSON enables JSON log output.
	JSON bool

	// Service is added as 'service' tag to every log line, if set.
	Service string

	// Version is added as 'version' tag to every log line, if set.
	Version string
}

// SetupLogger creates the process logger writing to stderr.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
