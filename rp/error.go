package rp

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable machine-readable code identifying where in the login or
// refresh flow a failure occurred.  Kinds are part of the public surface:
// they appear in the error-redirect query string and hosts may branch on
// them.
type Kind string

const (
	KindInvalidCallback      Kind = "invalid-callback"
	KindMissingCode          Kind = "missing-code"
	KindTokenExchangeFailed  Kind = "token-exchange-failed"
	KindInvalidTokenResponse Kind = "invalid-token-response"
	KindInvalidIDTokenClaim  Kind = "invalid-id-token-claim"
	KindInvalidUserClaim     Kind = "invalid-user-claim"
	KindNoUsername           Kind = "no-username"
	KindIncompleteUserClaim  Kind = "incomplete-user-claim"
	KindNotAuthorized        Kind = "not-authorized"
	KindInvalidUser          Kind = "invalid-user"
	KindAccountCreateFailed  Kind = "account-create-failed"
	KindRefreshCookieMissing Kind = "refresh-cookie-missing"
	KindRefreshCookieInvalid Kind = "refresh-cookie-invalid"
	KindAccessExpired        Kind = "access-expired"
)

// Error is the tagged failure result used instead of panics or sentinel-only
// errors throughout the login pipeline.  Every fallible operation in this
// package returns either a success value or an *Error.  Context may carry
// offending raw values for diagnostics; it is logged but never shown to the
// end user.
type Error struct {
	Kind    Kind
	Msg     string
	Op      string
	Context map[string]interface{}
	Wrapped error
}

// NewError composes a new Error for the given Kind.
// Supported options:
//
//	WithErrOp
//	WithMsg
//	WithWrap
//	WithContext
func NewError(kind Kind, opt ...Option) *Error {
	opts := getErrOpts(opt...)
	return &Error{
		Kind:    kind,
		Msg:     opts.withMsg,
		Op:      opts.withOp,
		Context: opts.withContext,
		Wrapped: opts.withWrap,
	}
}

// Error satisfies the error interface.  The rendered string includes the
// wrapped error but never the Context payload, so it is safe to log at the
// default level.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap supports errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports Kind equality, so errors.Is(err, NewError(KindMissingCode))
// matches any missing-code failure regardless of message or wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// IsKind reports whether err is (or wraps) an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// asError returns err as an *Error, wrapping it under the given Kind when it
// is anything else.  The pipeline uses it to classify collaborator failures
// with the Kind of the stage that observed them.
func asError(err error, kind Kind, msg string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(kind, WithMsg(msg), WithWrap(err))
}

// errOptions is the set of available options for NewError
type errOptions struct {
	withOp      string
	withMsg     string
	withContext map[string]interface{}
	withWrap    error
}

func errDefaults() errOptions {
	return errOptions{}
}

func getErrOpts(opt ...Option) errOptions {
	opts := errDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithErrOp provides an optional operation name for an Error
func WithErrOp(op string) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withOp = op
		}
	}
}

// WithMsg provides an optional human-readable message for an Error
func WithMsg(format string, a ...interface{}) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withMsg = fmt.Sprintf(format, a...)
		}
	}
}

// WithWrap provides an optional wrapped error for an Error
func WithWrap(err error) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withWrap = err
		}
	}
}

// WithContext attaches an optional diagnostic key/value to an Error.  It may
// carry raw claim or parameter values; the Error renderer keeps it out of
// user-facing output.
func WithContext(key string, value interface{}) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			if o.withContext == nil {
				o.withContext = map[string]interface{}{}
			}
			o.withContext[key] = value
		}
	}
}
