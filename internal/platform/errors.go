package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is an error response from the ads platform.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform error (http %d, code %d/%d): %s", e.StatusCode, e.Code, e.Subcode, e.Message)
}

// transientCodes are platform error codes for throttling and temporary outages.
var transientCodes = map[int]bool{
	1:   true, // unknown, usually temporary
	2:   true, // service temporarily unavailable
	4:   true, // application request limit
	17:  true, // user request limit
	32:  true, // page request limit
	341: true, // application limit
	613: true, // rate limit
}

// Transient reports whether retrying the same request can succeed.
func (e *APIError) Transient() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return true
	}
	if transientCodes[e.Code] {
		return true
	}
	// ads management business-use-case throttling
	return e.Code >= 80000 && e.Code <= 80014
}

// IsTransient reports whether err is worth retrying. Network failures and
// deadline overruns on a single request count as transient; a cancelled
// context does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }
