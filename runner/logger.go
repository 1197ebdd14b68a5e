package runner

import (
	"log/slog"

	"github.com/notargets/ComputeKernel/device"
)

// SetLogger configures the logger for the runner, the scan engine and every
// device backend. By default nothing is logged. Pass nil to restore the
// silent default.
//
// Log levels:
//   - [slog.LevelDebug]: pipeline builds, launches, submissions
//   - [slog.LevelInfo]: device selection
//
// Example:
//
//	runner.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	device.SetLogger(l)
}

// Logger returns the current logger. Sub-packages share it through here.
func Logger() *slog.Logger {
	return device.Logger()
}

func slogger() *slog.Logger {
	return device.Logger()
}
