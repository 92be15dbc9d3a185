// Package chaterr defines the error taxonomy shared by the Junction core.
//
// Every domain failure carries a Code (which rule was violated) and a Kind
// (how callers should react). Codes are comparable with errors.Is, so a
// wrapped error still matches its sentinel:
//
//	if errors.Is(err, chaterr.ConversationArchived) { ... }
package chaterr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error by how it propagates.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAccessDenied
	KindConflict
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Code is a sentinel identifying one violated rule.
type Code struct {
	name string
	kind Kind
}

func (c *Code) Error() string { return c.name }

// Name returns the stable identifier of the code, e.g. "ContentTooLong".
func (c *Code) Name() string { return c.name }

// Kind returns the propagation class of the code.
func (c *Code) Kind() Kind { return c.kind }

// With attaches a human-readable detail to the code.
func (c *Code) With(format string, args ...any) error {
	return &Error{Code: c, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to the code.
func (c *Code) Wrap(cause error, format string, args ...any) error {
	return &Error{Code: c, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

func newCode(name string, kind Kind) *Code { return &Code{name: name, kind: kind} }

// Validation.
var (
	InvalidParticipantCount = newCode("InvalidParticipantCount", KindValidation)
	DuplicateParticipant    = newCode("DuplicateParticipant", KindValidation)
	EmptyContent            = newCode("EmptyContent", KindValidation)
	ContentTooLong          = newCode("ContentTooLong", KindValidation)
	InvalidUuidFormat       = newCode("InvalidUuidFormat", KindValidation)
	MissingMetadata         = newCode("MissingMetadata", KindValidation)
	InvalidArgument         = newCode("InvalidArgument", KindValidation)
)

// Not found.
var (
	ConversationNotFound = newCode("ConversationNotFound", KindNotFound)
	UserNotFound         = newCode("UserNotFound", KindNotFound)
	MessageNotFound      = newCode("MessageNotFound", KindNotFound)
	AgentNotFound        = newCode("AgentNotFound", KindNotFound)
)

// Access.
var AccessDenied = newCode("AccessDenied", KindAccessDenied)

// Conflict / state.
var (
	ConversationArchived      = newCode("ConversationArchived", KindConflict)
	AlreadyMember             = newCode("AlreadyMember", KindConflict)
	NotMember                 = newCode("NotMember", KindConflict)
	CapacityExceeded          = newCode("CapacityExceeded", KindConflict)
	ConversationTypeImmutable = newCode("ConversationTypeImmutable", KindConflict)
	NoAvailableAgents         = newCode("NoAvailableAgents", KindConflict)
)

// Infrastructure.
var (
	Unavailable       = newCode("Unavailable", KindTransient)
	CapacityViolation = newCode("CapacityViolation", KindFatal)
)

// Error is a coded domain error.
type Error struct {
	Code   *Code
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Code.name
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is reports whether target is this error's code.
func (e *Error) Is(target error) bool {
	c, ok := target.(*Code)
	return ok && c == e.Code
}

func (e *Error) Unwrap() error { return e.Cause }

// CodeOf returns the code carried by err, or nil for uncoded errors.
func CodeOf(err error) *Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c *Code
	if errors.As(err, &c) {
		return c
	}
	return nil
}

// KindOf classifies err. Context deadlines count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if c := CodeOf(err); c != nil {
		return c.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether the caller may retry the operation verbatim.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// Infra converts a persistence or collaborator failure into a coded error.
// Deadline and cancellation become Unavailable; coded errors pass through.
func Infra(err error, action string) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Unavailable.Wrap(err, "%s timed out", action)
	}
	return fmt.Errorf("%s: %w", action, err)
}
