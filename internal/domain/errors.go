package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidWeekID is returned for identifiers not matching <year>CW_<week-number>.
	ErrInvalidWeekID = errors.New("invalid calendar week")

	// ErrBucketNotFound means the week has no image directory. Callers treat it as "nothing to analyze".
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrLedgerNotFound means the week has no ledger file yet.
	ErrLedgerNotFound = errors.New("ledger not found")

	// ErrLedgerCorrupt marks rows that do not have exactly five fields,
	// and records that would produce such rows.
	ErrLedgerCorrupt = errors.New("ledger corrupt")

	// ErrInferenceFailure matches any *InferenceError.
	ErrInferenceFailure = errors.New("inference failure")

	// ErrParse matches any *ParseError.
	ErrParse = errors.New("parse error")
)

// InferenceError wraps a failed, timed out or unusable model call.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failure: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInferenceFailure }

// ParseError is returned when model text does not split into a record.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// StartupConfigError is fatal: the process must not start serving.
type StartupConfigError struct {
	Problems []string
}

func (e *StartupConfigError) Error() string {
	return "startup configuration: " + strings.Join(e.Problems, "; ")
}
