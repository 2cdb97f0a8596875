package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates a contract violation by the caller
	ErrInvalidInput = errors.New("invalid input")

	// ErrParse indicates that model output could not be parsed
	ErrParse = errors.New("parse failure")

	// ErrTransient indicates a retryable network or provider failure
	ErrTransient = errors.New("transient failure")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
