package adplatform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Error wraps the ad platform's own error payload. The platform status code
// is surfaced to API callers when available.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Raw        json.RawMessage
	// CreativeID names the creative whose provisioning step failed, when the
	// failure happened inside a multi-creative provision.
	CreativeID string
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(e.Raw))
	}
	if msg == "" {
		return fmt.Sprintf("ad platform error (status=%d)", e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("ad platform error (status=%d, code=%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("ad platform error (status=%d): %s", e.StatusCode, msg)
}

// AsError unwraps a platform error from an error chain.
func AsError(err error) (*Error, bool) {
	var platformErr *Error
	if errors.As(err, &platformErr) {
		return platformErr, true
	}
	return nil, false
}

func withCreative(err error, creativeID string) error {
	if platformErr, ok := AsError(err); ok && platformErr.CreativeID == "" {
		platformErr.CreativeID = creativeID
	}
	return err
}
