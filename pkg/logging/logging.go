// Package logging builds the hclog logger every rbdsnap component writes to.
package logging

import (
	"io"
	"log/syslog"
	"os"

	"github.com/hashicorp/go-hclog"
)

const Name = "rbdsnap"

type Options struct {
	// Debug and DryRun both switch to debug level on stdout
	Debug  bool
	DryRun bool

	Stdout io.Writer
	Stderr io.Writer

	// opens the syslog writer, syslog.New by default
	Syslog func() (io.Writer, error)
}

func dialSyslog() (io.Writer, error) {
	return syslog.New(syslog.LOG_INFO|syslog.LOG_CRON, Name)
}

// New returns the root logger. Interactive runs (debug or dry-run) log to
// stdout at debug level, cron runs log to syslog at info level and fall back
// to stderr when syslog cannot be reached.
func New(opts Options) hclog.Logger {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Syslog == nil {
		opts.Syslog = dialSyslog
	}

	if opts.Debug || opts.DryRun {
		return hclog.New(&hclog.LoggerOptions{
			Name:       Name,
			Level:      hclog.Debug,
			Output:     opts.Stdout,
			Color:      hclog.AutoColor,
			TimeFormat: hclog.TimeFormat,
		})
	}

	w, err := opts.Syslog()
	if err != nil {
		logger := hclog.New(&hclog.LoggerOptions{
			Name:   Name,
			Level:  hclog.Info,
			Output: opts.Stderr,
		})
		logger.Warn("syslog unavailable, logging to stderr", "error", err)
		return logger
	}

	// syslog stamps its own time
	return hclog.New(&hclog.LoggerOptions{
		Name:            Name,
		Level:           hclog.Info,
		Output:          w,
		DisableTime:     true,
		IncludeLocation: false,
	})
}
