package mimir

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the error taxonomy surfaced by the pipeline core.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindClassification   ErrorKind = "classification"
	KindGenerationFailed ErrorKind = "generation_failed"
	KindSecurity         ErrorKind = "security"
	KindRuntime          ErrorKind = "runtime"
	KindTimeout          ErrorKind = "timeout"
	KindBackpressure     ErrorKind = "backpressure"
	KindCanceled         ErrorKind = "canceled"

	// Generator-internal kinds consumed by the retry executor and the
	// strategy scheduler; never surfaced to clients directly.
	KindNoRuleMatch      ErrorKind = "no_rule_match"
	KindLLMUnavailable   ErrorKind = "llm_unavailable"
	KindLLMTimeout       ErrorKind = "llm_timeout"
	KindLLMMalformed     ErrorKind = "llm_malformed"
	KindTransientNetwork ErrorKind = "transient_network"
)

// Error carries an ErrorKind through the pipeline. Security errors carry
// rule ids in Reasons and never the offending SQL.
type Error struct {
	Kind    ErrorKind
	Message string
	Reasons []string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if len(e.Reasons) > 0 {
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Reasons, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds an Error with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a kind to an underlying error.
func WrapErr(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err, Message: err.Error()}
}

// KindOf extracts the ErrorKind of err, mapping context errors to
// timeout/canceled. Unrecognized errors report KindRuntime.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindRuntime
}

// IsRetriable reports whether err may be retried by the retry executor.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindLLMTimeout, KindLLMMalformed, KindTransientNetwork:
		return true
	}
	return false
}

// ReasonsOf returns the rule ids or per-strategy reasons attached to err.
func ReasonsOf(err error) []string {
	var me *Error
	if errors.As(err, &me) {
		return me.Reasons
	}
	return nil
}
