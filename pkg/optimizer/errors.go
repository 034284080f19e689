package optimizer

import (
	"errors"
	"fmt"

	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

var (
	// ErrInvalidArgument is returned by Start for missing or malformed arguments
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyRunning is returned by Start while a run is active
	ErrAlreadyRunning = errors.New("optimizer is already running")

	// ErrNotRunning is returned by lifecycle calls made in the wrong state
	ErrNotRunning = errors.New("optimizer is not in a state that allows this operation")

	// ErrEvaluationTimeout is returned when a strategy run exceeds the evaluation timeout
	ErrEvaluationTimeout = errors.New("strategy evaluation timed out")

	// ErrEvaluationFailed wraps runtime failures under the hard failure policy
	ErrEvaluationFailed = errors.New("strategy evaluation failed")

	// ErrUnsupportedParameterType matches every UnsupportedParameterTypeError
	ErrUnsupportedParameterType = errors.New("unsupported parameter type")
)

// UnsupportedParameterTypeError names a parameter whose type the codec cannot generate
type UnsupportedParameterTypeError struct {
	Param string
	Type  strategy.ParamType
}

func (e *UnsupportedParameterTypeError) Error() string {
	return fmt.Sprintf("parameter %s: unsupported parameter type %q", e.Param, e.Type)
}

// Is makes errors.Is(err, ErrUnsupportedParameterType) hold
func (e *UnsupportedParameterTypeError) Is(target error) bool {
	return target == ErrUnsupportedParameterType
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
