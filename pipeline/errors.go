package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindPrecondition failures never issue a remote call.
	KindPrecondition Kind = "precondition"
	// KindProvider means the remote job explicitly reported failure.
	KindProvider Kind = "provider"
	// KindTimeout means the outcome of the remote job is unknown.
	KindTimeout     Kind = "timeout"
	KindPersistence Kind = "persistence"
	KindCanceled    Kind = "canceled"
)

// Precondition reasons.
const (
	ReasonInsufficientBalance = "insufficient-balance"
	ReasonMissingArtifact     = "missing-artifact"
	ReasonCapExceeded         = "cap-exceeded"
	ReasonTooManyReferences   = "too-many-references"
	ReasonStyleRequired       = "style-required"
	ReasonSceneNotFound       = "scene-not-found"
	ReasonNoScenes            = "no-scenes"
)

// Failure is the single error type produced by pipeline components.
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Reason != "" {
		return fmt.Sprintf("%s failure (%s): %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func Precondition(reason, format string, args ...interface{}) *Failure {
	return &Failure{Kind: KindPrecondition, Reason: reason, Err: fmt.Errorf(format, args...)}
}

func ProviderFailed(err error) *Failure {
	return &Failure{Kind: KindProvider, Err: err}
}

func TimedOut(format string, args ...interface{}) *Failure {
	return &Failure{Kind: KindTimeout, Err: fmt.Errorf(format, args...)}
}

func PersistenceFailed(op string, err error) *Failure {
	return &Failure{Kind: KindPersistence, Err: fmt.Errorf("%s: %w", op, err)}
}

func Canceled(err error) *Failure {
	return &Failure{Kind: KindCanceled, Err: err}
}

// KindOf returns the failure kind carried by err, or "" if there is none.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// ReasonOf returns the precondition reason carried by err, or "".
func ReasonOf(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}

// asFailure classifies an error coming back from a remote call. Failures pass
// through unchanged.
func asFailure(err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled(err)
	}
	return ProviderFailed(err)
}

// StageError is the run-level failure: the stage it happened in and the
// originating error, unmodified.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
