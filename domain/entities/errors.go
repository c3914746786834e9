package entities

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a remote job exceeds its wall-clock limit
var ErrTimeout = errors.New("timed out")

// ErrNotFound is returned when a stored record or object does not exist
var ErrNotFound = errors.New("not found")

// ValidationError reports bad or empty input text. It fails a request
// immediately and is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NewValidationError creates a ValidationError with a formatted reason
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// SynthesisError reports that the remote worker rejected or timed out a job
type SynthesisError struct {
	JobID string
	Err   error
}

func (e *SynthesisError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("synthesis job %s failed: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// FormatError reports a structurally invalid WAV container
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "malformed wav: " + e.Reason
}

// StorageError reports an object storage upload or download failure
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TranscriptionError reports a failure of the speech-to-text service
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsSynthesisError(err error) bool {
	var target *SynthesisError
	return errors.As(err, &target)
}

func IsFormatError(err error) bool {
	var target *FormatError
	return errors.As(err, &target)
}

func IsStorageError(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

func IsTranscriptionError(err error) bool {
	var target *TranscriptionError
	return errors.As(err, &target)
}
