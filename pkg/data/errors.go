package data

import "fmt"

// ValidationError reports input or result data that violates a structural
// rule. Field names the offending attribute when known.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s (field: %s)", e.Message, e.Field)
	}
	return "validation error: " + e.Message
}

// NewValidationError formats a ValidationError for field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Field: field}
}

// AlgorithmError reports a failure inside an election algorithm.
type AlgorithmError struct {
	Message   string
	Algorithm AlgorithmType
}

func (e *AlgorithmError) Error() string {
	return fmt.Sprintf("algorithm error (%s): %s", e.Algorithm, e.Message)
}

// InsufficientCandidatesError is returned when more seats are requested than
// there are candidates.
type InsufficientCandidatesError struct {
	Requested uint32
	Available uint32
}

func (e *InsufficientCandidatesError) Error() string {
	return fmt.Sprintf("insufficient candidates: requested %d, available %d", e.Requested, e.Available)
}

// InvalidDataError reports malformed data, such as duplicate ids or stakes out
// of range.
type InvalidDataError struct {
	Message string
}

func (e *InvalidDataError) Error() string {
	return "invalid data: " + e.Message
}

// FileError wraps an I/O failure on a snapshot or result file.
type FileError struct {
	Message string
	Path    string
	Err     error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("file error: %s %s: %v", e.Message, e.Path, e.Err)
	}
	return fmt.Sprintf("file error: %s %s", e.Message, e.Path)
}

func (e *FileError) Unwrap() error { return e.Err }
