package capability

import (
	"errors"
	"fmt"
)

// ErrUnavailable indicates a capability cannot be constructed: no command
// is configured or the binary is missing. Optional sources are skipped.
var ErrUnavailable = errors.New("capability unavailable")

// RuntimeError indicates a constructed capability failed mid-job on a
// specific call. These are recorded per frame and are only fatal when a
// mandatory source fails on every frame.
type RuntimeError struct {
	Capability string
	Err        error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s runtime error: %v", e.Capability, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsRuntime reports whether err is a capability runtime error.
func IsRuntime(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}
