package api

import (
	"fmt"
)

// NetworkError wraps a failure to reach the platform at all: DNS, dial,
// TLS, timeout. The request may or may not have been processed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a referenced entity the platform does not know.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// APIError is a request the platform received and rejected.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform rejected request (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("platform rejected request (HTTP %d): %s", e.StatusCode, e.Message)
}
