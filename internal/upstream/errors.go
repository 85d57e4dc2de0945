package upstream

import "fmt"

// Error reports a failed upstream HTTP call.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// AuthError reports a failed credential acquisition: the manager rejected the
// basic-auth credentials or returned a malformed token payload.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}
