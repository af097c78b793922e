package commands

import (
	"context"
	"errors"

	"github.com/dataxchange/dxp/pkg/engine"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1 // a run aborted or an unclassified error
	ExitLoad     = 2 // the package could not be loaded
	ExitConfig   = 3 // configuration, schema or policy rejected the package
	ExitCanceled = 130
)

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled), engine.ErrorCode(err) == engine.ErrCodeCancelled:
		return ExitCanceled
	case engine.IsLoadError(err):
		return ExitLoad
	case engine.IsConfigurationError(err):
		return ExitConfig
	default:
		return ExitFailure
	}
}
