package core

import (
	"errors"
	"fmt"
)

// Kind classifies a recoverable pipeline failure. Every kind maps to exactly
// one deterministic user-facing fallback message.
type Kind string

// Failure kinds.
const (
	KindClassificationAmbiguous Kind = "classification_ambiguous"
	KindClassificationFailed    Kind = "classification_failed"
	KindParseError              Kind = "parse_error"
	KindSearchUnavailable       Kind = "search_error"
	KindModelUnavailable        Kind = "llm_error"
	KindTimeout                 Kind = "timeout_error"
	KindMaxTurnsExceeded        Kind = "max_turns_exceeded"
	KindSessionExpired          Kind = "session_timeout"
	KindNoMatchingCases         Kind = "no_matching_cases"
)

// Failure is a typed, recoverable pipeline error. It records the stage it
// occurred in so the fallback policy can attribute the failed attempt.
type Failure struct {
	Kind  Kind
	Stage Stage
	Err   error
}

// NewFailure wraps err as a Failure of the given kind and stage.
func NewFailure(kind Kind, stage Stage, err error) *Failure {
	return &Failure{Kind: kind, Stage: stage, Err: err}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s failure at %s: %v", f.Kind, f.Stage, f.Err)
	}
	return fmt.Sprintf("%s failure at %s", f.Kind, f.Stage)
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// FailureKind extracts the failure kind from an error chain. The second
// return is false when the error carries no Failure.
func FailureKind(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}
