// Package errors is the structured error model surfaced to callers of every service.
//
// Gates and handlers return *Error values; the service registrar passes whatever a call
// failed with through Translate exactly once, so callers always receive a gRPC status
// carrying a code, a message and an ErrorInfo detail whose Reason is the error Kind.
package errors

import (
	"context"
	"fmt"
	"maps"

	cerrors "github.com/cockroachdb/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InternalMessage is the only message ever surfaced for an unclassified failure.
const InternalMessage = "Internal server error occurred"

// Domain is set on every ErrorInfo detail produced by this package.
const Domain = "service-runtime"

// Kind names a failure category. It is carried as ErrorInfo.Reason on the wire.
type Kind string

const (
	KindCredentialMissing Kind = "credential-missing"
	KindCredentialExpired Kind = "credential-expired"
	KindCredentialInvalid Kind = "credential-invalid"
	KindSubjectNotFound   Kind = "subject-not-found"
	KindRoleMissing       Kind = "role-missing"
	KindRoleForbidden     Kind = "role-forbidden"
	KindInvalidRequest    Kind = "invalid-request"
	KindRateLimited       Kind = "rate-limited"
	KindNoResult          Kind = "no-result"
	KindCanceled          Kind = "canceled"
	KindDeadlineExceeded  Kind = "deadline-exceeded"
	KindInternal          Kind = "internal"
)

var kindCodes = map[Kind]codes.Code{ //nolint:gochecknoglobals
	KindCredentialMissing: codes.Unauthenticated,
	KindCredentialExpired: codes.Unauthenticated,
	KindCredentialInvalid: codes.Unauthenticated,
	KindSubjectNotFound:   codes.NotFound,
	KindRoleMissing:       codes.PermissionDenied,
	KindRoleForbidden:     codes.PermissionDenied,
	KindInvalidRequest:    codes.InvalidArgument,
	KindRateLimited:       codes.ResourceExhausted,
	KindNoResult:          codes.Internal,
	KindCanceled:          codes.Canceled,
	KindDeadlineExceeded:  codes.DeadlineExceeded,
	KindInternal:          codes.Internal,
}

// Code returns the status code a kind maps to. Unknown kinds map to codes.Unknown.
func (k Kind) Code() codes.Code {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return codes.Unknown
}

// Error is a failure with an explicit status code, a caller-facing message and optional metadata.
type Error struct {
	Kind     Kind
	Code     codes.Code
	Message  string
	Metadata map[string]string

	cause error
}

// Option customizes an Error at construction.
type Option func(*Error)

// WithMetadata merges md into the error metadata.
func WithMetadata(md map[string]string) Option {
	return func(e *Error) {
		if len(md) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(md))
		}
		maps.Copy(e.Metadata, md)
	}
}

// WithMetadataValue sets a single metadata entry.
func WithMetadataValue(key, value string) Option {
	return WithMetadata(map[string]string{key: value})
}

// WithCode overrides the code derived from the kind.
func WithCode(code codes.Code) Option {
	return func(e *Error) {
		e.Code = code
	}
}

// WithCause records the underlying error. It is never sent to the caller.
func WithCause(err error) Option {
	return func(e *Error) {
		e.cause = err
	}
}

// New creates an Error whose code is derived from kind.
func New(kind Kind, message string, opts ...Option) *Error {
	e := &Error{Kind: kind, Code: kind.Code(), Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// NewWithCode creates an Error for a kind that has no fixed code, typically a business
// failure raised by a handler (e.g. an "already-exists" kind with codes.AlreadyExists).
func NewWithCode(code codes.Code, kind Kind, message string, opts ...Option) *Error {
	return New(kind, message, append(opts, WithCode(code))...)
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same kind, so sentinel values can be
// compared with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !cerrors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// GRPCStatus lets grpc-go and status.FromError convert the error without losing fields.
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(e.Code, e.Message)
	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Kind),
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return st
	}
	return withDetails
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if cerrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Translate maps any failure to an *Error.
//
// An *Error anywhere in the chain is returned unchanged, which makes Translate idempotent.
// gRPC status errors keep their code and message and recover kind and metadata from an
// ErrorInfo detail when present. Context cancellation and deadline errors map to their
// status codes. Everything else becomes an internal error with InternalMessage; the
// original text is kept only as the unexported cause for logging.
func Translate(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if cerrors.As(err, &e) {
		return e
	}

	switch {
	case cerrors.Is(err, context.Canceled):
		return New(KindCanceled, "context canceled", WithCause(err))
	case cerrors.Is(err, context.DeadlineExceeded):
		return New(KindDeadlineExceeded, "deadline exceeded", WithCause(err))
	}

	if st, ok := statusOf(err); ok {
		return fromStatus(st, err)
	}

	return New(KindInternal, InternalMessage, WithCause(err))
}

// FromStatusError rebuilds an *Error from a status error received by a client.
// It reports false when err carries no gRPC status.
func FromStatusError(err error) (*Error, bool) {
	st, ok := statusOf(err)
	if !ok {
		return nil, false
	}
	return fromStatus(st, err), true
}

// statusOf finds the status carried anywhere in err's chain. Unlike status.FromError
// it keeps the status message as is instead of prefixing it with the wrapper text.
func statusOf(err error) (*status.Status, bool) {
	var se interface{ GRPCStatus() *status.Status }
	if !cerrors.As(err, &se) {
		return nil, false
	}
	st := se.GRPCStatus()
	if st == nil || st.Code() == codes.OK {
		return nil, false
	}
	return st, true
}

func fromStatus(st *status.Status, cause error) *Error {
	e := &Error{
		Kind:    kindFromCode(st.Code()),
		Code:    st.Code(),
		Message: st.Message(),
		cause:   cause,
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok {
			continue
		}
		if info.GetReason() != "" {
			e.Kind = Kind(info.GetReason())
		}
		if len(info.GetMetadata()) > 0 {
			e.Metadata = maps.Clone(info.GetMetadata())
		}
		break
	}
	return e
}

func kindFromCode(c codes.Code) Kind {
	switch c { //nolint:exhaustive
	case codes.Canceled:
		return KindCanceled
	case codes.DeadlineExceeded:
		return KindDeadlineExceeded
	case codes.InvalidArgument:
		return KindInvalidRequest
	case codes.ResourceExhausted:
		return KindRateLimited
	case codes.Internal:
		return KindInternal
	default:
		return Kind(c.String())
	}
}
