package command

import (
	"errors"
	"fmt"

	"github.com/pixperk/rbdsnap/pkg/types"
)

// process exit codes
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// ExitCode maps a command error to the process exit code. Losing the lock to
// another run is a clean exit, cron must not report it.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, types.ErrLockBusy):
		return ExitOK
	case errors.Is(err, types.ErrInvalidConfig):
		return ExitUsage
	default:
		return ExitFailure
	}
}
