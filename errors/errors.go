package errors

import (
	"errors"
	"fmt"
)

// Common error types for categorization and handling

var (
	// ErrNoDataset indicates no dataset file is available for a query
	ErrNoDataset = errors.New("no dataset available")

	// ErrDatasetParse indicates a dataset file could not be parsed
	ErrDatasetParse = errors.New("dataset parse failed")

	// ErrInvalidInput indicates invalid user input
	ErrInvalidInput = errors.New("invalid input")

	// ErrSandboxStart indicates the execution sandbox failed to reach a ready state
	ErrSandboxStart = errors.New("sandbox failed to start")

	// ErrCodeExecution indicates code execution inside the sandbox failed
	ErrCodeExecution = errors.New("code execution failed")

	// ErrLLMCommunication indicates LLM communication failed
	ErrLLMCommunication = errors.New("llm communication failed")

	// ErrDatabaseOperation indicates a database operation failed
	ErrDatabaseOperation = errors.New("database operation failed")
)

// WrapError wraps an error with context message and stack
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsNoDataset checks if error means no dataset was found
func IsNoDataset(err error) bool {
	return errors.Is(err, ErrNoDataset)
}

// IsDatasetParse checks if error is a dataset parse error
func IsDatasetParse(err error) bool {
	return errors.Is(err, ErrDatasetParse)
}

// IsSandboxStart checks if error is a sandbox startup error
func IsSandboxStart(err error) bool {
	return errors.Is(err, ErrSandboxStart)
}
