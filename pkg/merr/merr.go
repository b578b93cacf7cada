// Package merr defines Meridian's error taxonomy: a small set of sentinel
// kinds shared by every coordination component, wrapped in a typed error
// that carries a machine-readable code and a remediation hint. Callers
// match kinds with errors.Is; operators read the hint.
package merr

import (
	"errors"
	"fmt"
)

// Kind is one of the language-independent error kinds named by the
// coordination core's error-handling design.
type Kind string

const (
	KindNotLeader           Kind = "not_leader"
	KindTimeout             Kind = "timeout"
	KindNotFound            Kind = "not_found"
	KindDuplicate           Kind = "duplicate"
	KindWrongState          Kind = "wrong_state"
	KindParticipantFailed   Kind = "participant_failed"
	KindCompensationFailed  Kind = "compensation_failed"
	KindUnavailable         Kind = "unavailable"
	KindInvalidArgument     Kind = "invalid_argument"
)

// sentinels allow errors.Is(err, merr.NotFound) without constructing an
// *Error by hand.
var (
	NotLeader          = &Error{Kind: KindNotLeader}
	Timeout            = &Error{Kind: KindTimeout}
	NotFound           = &Error{Kind: KindNotFound}
	Duplicate          = &Error{Kind: KindDuplicate}
	WrongState         = &Error{Kind: KindWrongState}
	ParticipantFailed  = &Error{Kind: KindParticipantFailed}
	CompensationFailed = &Error{Kind: KindCompensationFailed}
	Unavailable        = &Error{Kind: KindUnavailable}
	InvalidArgument    = &Error{Kind: KindInvalidArgument}
)

// Error is Meridian's wire- and log-friendly error shape. Message is a
// human-readable description; Remediation is a short operator hint;
// LeaderHint carries the last-known leader for not_leader errors.
type Error struct {
	Kind        Kind
	Message     string
	Remediation string
	LeaderHint  string
	cause       error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/As see through to a wrapped cause, and lets
// errors.Is(err, merr.NotFound) match on Kind via the Is method below.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, merr.NotFound) against the exported sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind that wraps an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithRemediation attaches an operator-facing remediation hint.
func (e *Error) WithRemediation(hint string) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Remediation: hint, LeaderHint: e.LeaderHint, cause: e.cause}
}

// WithLeaderHint attaches the last-known leader, for not_leader errors.
func (e *Error) WithLeaderHint(leader string) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Remediation: e.Remediation, LeaderHint: leader, cause: e.cause}
}

// Is reports whether err's kind (walking the Unwrap chain) equals kind.
func Is(err error, kind Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}
