package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceCreation reports that the device failed to compile a
	// library, build a pipeline or allocate memory
	ErrResourceCreation = errors.New("resource creation failed")

	// ErrMissingReflection reports that the device built a pipeline but
	// could not say which slot each argument name occupies. It is a kind
	// of ErrResourceCreation.
	ErrMissingReflection = fmt.Errorf("%w: pipeline reflection unavailable", ErrResourceCreation)

	// ErrMissingBinding reports an argument name that does not match a
	// kernel slot, or a kernel slot with no argument. Use
	// errors.As with *MissingBindingError to recover the name.
	ErrMissingBinding = errors.New("missing binding")

	// ErrUnsupportedCapability reports a dispatch the device cannot perform
	ErrUnsupportedCapability = errors.New("unsupported device capability")

	// ErrConfiguration reports invalid sizes or options
	ErrConfiguration = errors.New("invalid configuration")

	// ErrUnimplemented reports an argument used in a role it has no
	// encoding for, such as a buffer used as a pipeline constant
	ErrUnimplemented = errors.New("unimplemented")

	// ErrTaskSubmitted reports use of a task after its command buffer was
	// submitted
	ErrTaskSubmitted = errors.New("task already submitted")
)

// MissingBindingError names the argument or slot that failed to bind
type MissingBindingError struct {
	Name string
}

func (e *MissingBindingError) Error() string {
	return fmt.Sprintf("missing binding: %s", e.Name)
}

func (e *MissingBindingError) Unwrap() error {
	return ErrMissingBinding
}
