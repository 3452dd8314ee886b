package services

import "fmt"

// ServiceError carries the HTTP-equivalent status, a stable code, and optional
// reconciliation metadata (for instance both version values on a conflict).
// Business-rule failures (conflict, invalid transition) are produced before
// any write and leave the store untouched; REQUESTS_INTERNAL marks a transient
// storage fault whose surrounding transaction was rolled back and which is
// safe to retry with backoff.
type ServiceError struct {
	Status  int
	Code    string
	Message string
	Meta    map[string]string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func newServiceErrorWithMeta(status int, code, message string, meta map[string]string) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Meta: meta}
}
