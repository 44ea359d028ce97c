package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies the failures that can occur while a stream is
// being compressed. The category decides how a failure is routed: whether
// the process may still drain the compression frame and exit cleanly, or
// whether it must terminate with a non-zero status.
type ErrorCategory int

const (
	// ErrorInput indicates a failure reading records from the input stream,
	// other than a clean end-of-stream.
	ErrorInput ErrorCategory = iota + 1

	// ErrorEngine indicates the compression engine rejected a feed or flush
	// operation. Engine errors are never retried.
	ErrorEngine

	// ErrorSink indicates a write, sync, open or close failure on the
	// output file.
	ErrorSink

	// ErrorIntegrity indicates the engine violated its output contract by
	// producing more bytes than the output buffer can hold.
	ErrorIntegrity

	// ErrorRotation indicates a failure while switching output files.
	// A partially rotated stream cannot be resumed, so these are always
	// fatal to the process.
	ErrorRotation
)

// String returns the string representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case ErrorInput:
		return "input"
	case ErrorEngine:
		return "engine"
	case ErrorSink:
		return "sink"
	case ErrorIntegrity:
		return "integrity"
	case ErrorRotation:
		return "rotation"
	default:
		return "unknown"
	}
}

// PipelineError wraps a failure with the operation that produced it, the
// time it occurred and its category.
type PipelineError struct {
	Err       error
	Operation string
	Timestamp time.Time
	Category  ErrorCategory
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%v] %s: %v", e.Category, e.Operation, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Terminal reports whether errors of this category must end the process
// with a non-zero exit status. Input errors terminate the stream but are
// not escalated beyond a log line: the producer already received an ack
// for every record that made it into the frame.
func (e *PipelineError) Terminal() bool {
	switch e.Category {
	case ErrorEngine, ErrorSink, ErrorIntegrity, ErrorRotation:
		return true
	default:
		return false
	}
}

// New wraps err with an operation name and category.
func New(category ErrorCategory, operation string, err error) *PipelineError {
	return &PipelineError{
		Err:       err,
		Operation: operation,
		Category:  category,
		Timestamp: time.Now(),
	}
}

// IsTerminal reports whether err carries a terminal PipelineError.
func IsTerminal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Terminal()
	}
	return false
}

// Category extracts the category from err, or 0 if err is not a
// PipelineError.
func Category(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return 0
}
