package experiments

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError marks a malformed or out-of-range start request. Detected
// before any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// ConflictError reports running experiments that block a start request. It
// carries the conflicting ids so the caller can force or retarget.
type ConflictError struct {
	ExperimentIDs []string
	CreativeIDs   []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("running experiment exists for creatives [%s]", strings.Join(e.CreativeIDs, ", "))
}

func AsConflictError(err error) (*ConflictError, bool) {
	var cerr *ConflictError
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}
