package backend

import "fmt"

// BackendError is the base type for all backend failures.
type BackendError struct {
	Message string
	Cause   error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BackendError) Unwrap() error { return e.Cause }

// VendorError is an error reported by a remote vendor. Retryable marks
// transient conditions (rate limits, server errors); everything else is
// fatal and must not be retried.
type VendorError struct {
	BackendError
	Vendor     string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from a Retry-After header when present
}

func (e *VendorError) Unwrap() error { return e.Cause }

func (e *VendorError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Vendor, e.Message, e.StatusCode, e.Retryable)
}

// Concrete vendor error kinds.

type AuthError struct{ VendorError }
type InvalidRequestError struct{ VendorError }
type RateLimitError struct{ VendorError }
type ServerError struct{ VendorError }
type ContextLengthError struct{ VendorError }

// Non-vendor errors.

type TimeoutError struct{ BackendError }
type NetworkError struct{ BackendError }
type CancelledError struct{ BackendError }
type ConfigError struct{ BackendError }

// ErrorFromStatus maps an HTTP status code to the matching error kind.
func ErrorFromStatus(status int, vendor, message string, retryAfter *float64) error {
	ve := VendorError{
		BackendError: BackendError{Message: message},
		Vendor:       vendor,
		StatusCode:   status,
		RetryAfter:   retryAfter,
	}

	switch status {
	case 400, 404, 422:
		return &InvalidRequestError{VendorError: ve}
	case 401, 403:
		return &AuthError{VendorError: ve}
	case 408:
		return &TimeoutError{BackendError: BackendError{Message: message}}
	case 413:
		return &ContextLengthError{VendorError: ve}
	case 429:
		ve.Retryable = true
		return &RateLimitError{VendorError: ve}
	case 500, 502, 503, 504, 529:
		ve.Retryable = true
		return &ServerError{VendorError: ve}
	default:
		// Unknown statuses default to retryable so flaky intermediaries
		// don't kill a turn.
		ve.Retryable = true
		return &ve
	}
}

// IsRetryable reports whether the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthError, *InvalidRequestError, *ContextLengthError, *ConfigError, *CancelledError:
		return false
	case *RateLimitError, *ServerError, *TimeoutError, *NetworkError:
		return true
	case *VendorError:
		return e.Retryable
	default:
		return false
	}
}
