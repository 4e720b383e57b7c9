// Package errors carries status codes for failures that cross the relay's
// HTTP and gRPC surfaces, and maps the game's domain sentinels onto them.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/guhur/plus-proche/internal/domain"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
)

func (c Code) String() string {
	return codes.Code(c).String()
}

// HTTPStatus is the response status used for c on the relay's HTTP routes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeFailedPrecondition:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sentinels is checked in order; the first match wins.
var sentinels = []struct {
	err  error
	code Code
}{
	{domain.ErrInvalidPin, CodeInvalidArgument},
	{domain.ErrInvalidDifficulty, CodeInvalidArgument},
	{domain.ErrInvalidAnswer, CodeInvalidArgument},
	{domain.ErrGameNotCreated, CodeNotFound},
	{domain.ErrPlayerNotFound, CodeNotFound},
	{domain.ErrNotHost, CodePermissionDenied},
	{domain.ErrNotPicker, CodePermissionDenied},
	{domain.ErrInvalidPhase, CodeFailedPrecondition},
	{domain.ErrInvalidTransition, CodeFailedPrecondition},
	{domain.ErrNotEnoughPlayers, CodeFailedPrecondition},
	{domain.ErrAlreadyAnswered, CodeFailedPrecondition},
	{domain.ErrNotSynced, CodeUnavailable},
	{domain.ErrGenerationFailed, CodeUnavailable},
}

// Error pairs a Code with a client-facing message. The cause stays reachable
// through errors.Is and errors.As but is never serialized.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{Code: code, Message: code.String()}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	return e.Code.HTTPStatus()
}

// Convert returns err as an *Error. A bare domain sentinel gets the code
// registered for it and its own text as message; anything else is internal.
func Convert(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return New(s.code, WithMessagef("%s", s.err), WithCause(err))
		}
	}

	return Internal(err)
}

// CodeOf reports the code Convert would give err.
func CodeOf(err error) Code {
	if err == nil {
		return Code(codes.OK)
	}
	return Convert(err).Code
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) { f(e) }

func WithCause(err error) Option {
	return optionFunc(func(e *Error) { e.cause = err })
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) { e.Message = fmt.Sprintf(format, args...) })
}
