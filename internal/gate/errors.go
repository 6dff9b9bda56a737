package gate

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleHost is returned by Apply when the host does not expose
	// the build-done signal.
	ErrIncompatibleHost = errors.New("host does not expose the " + hookName + " hook, please update the build integration")
	// ErrInputNotFound matches InputNotFoundError.
	ErrInputNotFound = errors.New("input location does not exist")
	// ErrOutputNotFound matches OutputNotFoundError.
	ErrOutputNotFound = errors.New("output location does not exist")
)

// InputNotFoundError reports a missing input root.
type InputNotFoundError struct {
	Location string
}

func (e *InputNotFoundError) Error() string {
	return fmt.Sprintf("input location %q does not exist", e.Location)
}

// Is makes errors.Is(err, ErrInputNotFound) hold.
func (e *InputNotFoundError) Is(target error) bool {
	return target == ErrInputNotFound
}

// OutputNotFoundError reports a configured output root that does not exist.
type OutputNotFoundError struct {
	Location string
}

func (e *OutputNotFoundError) Error() string {
	return fmt.Sprintf("output location %q does not exist", e.Location)
}

// Is makes errors.Is(err, ErrOutputNotFound) hold.
func (e *OutputNotFoundError) Is(target error) bool {
	return target == ErrOutputNotFound
}
