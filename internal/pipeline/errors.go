package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Kind string

const (
	KindConnection Kind = "connection"
	KindTimeout    Kind = "timeout"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindExecution  Kind = "execution"
	KindCache      Kind = "cache"
)

// Error is the typed failure of a pipeline run.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	// Issues is set for validation failures.
	Issues []string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString(" error in ")
		b.WriteString(string(e.Stage))
	} else {
		b.WriteString(" error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && (e.Message == "" || !strings.Contains(e.Message, e.Err.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnection || e.Kind == KindTimeout
}

func NewError(kind Kind, stage Stage, message string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, Err: err}
}

// NotFound is used by resolvers when a tenant has no such table or data source.
func NotFound(message string, err error) *Error {
	return &Error{Kind: KindNotFound, Stage: StageSchema, Message: message, Err: err}
}

func ValidationFailed(issues []string) *Error {
	msg := "generated sql was rejected"
	if len(issues) > 0 {
		msg = fmt.Sprintf("generated sql was rejected: %s", strings.Join(issues, "; "))
	}
	return &Error{Kind: KindValidation, Stage: StageValidate, Message: msg, Issues: issues}
}

// KindOf returns the kind of a pipeline error, or "" for other errors.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// Classify maps a raw collaborator error onto a typed error for stage. An
// existing *Error passes through with its stage filled in.
func Classify(stage Stage, err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Stage == "" {
			perr.Stage = stage
		}
		return perr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimeout, stage, "stage exceeded its time budget", err)
	case errors.Is(err, context.Canceled):
		return NewError(KindTimeout, stage, "request cancelled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(KindTimeout, stage, "remote call timed out", err)
		}
		return NewError(KindConnection, stage, "remote dependency unreachable", err)
	}
	return NewError(fallback, stage, "", err)
}
