package cache

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to the errors produced by the cache layer.
const (
	TextCodeNetwork   = "NETWORK_ERROR"
	TextCodeRejection = "SERVER_REJECTION"
	TextCodeConflict  = "VALIDATION_CONFLICT"
	TextCodeMalformed = "MALFORMED_ENVELOPE"
)

// NewNetworkError wraps a transport failure (timeout, connectivity, open breaker).
// The cache never retries it on its own.
func NewNetworkError(source error, message string) *goerrors.Error {
	if message == "" {
		message = "network request failed"
	}
	return goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithTextCode(TextCodeNetwork)
}

// NewServerRejection builds the error for an {ok:false} envelope. message is
// surfaced verbatim to the UI layer.
func NewServerRejection(message string, status int) *goerrors.Error {
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = "request rejected by server"
	}
	err := goerrors.New(message, goerrors.CategoryOperation).
		WithTextCode(TextCodeRejection)
	if status > 0 {
		err = err.WithCode(status)
	}
	return err
}

// NewMalformedEnvelope reports a response body that is not a valid envelope.
// It is classified as a server rejection.
func NewMalformedEnvelope(source error, status int) *goerrors.Error {
	err := goerrors.Wrap(source, goerrors.CategoryOperation, "malformed response envelope").
		WithTextCode(TextCodeMalformed)
	if status > 0 {
		err = err.WithCode(status)
	}
	return err
}

// NewValidationConflict reports a uniqueness or referential conflict found
// before any request was sent.
func NewValidationConflict(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithTextCode(TextCodeConflict)
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	return goerrors.IsCategory(err, goerrors.CategoryExternal)
}

// IsRejection reports whether err came from an {ok:false} or malformed envelope.
func IsRejection(err error) bool {
	return goerrors.IsCategory(err, goerrors.CategoryOperation)
}

// IsConflict reports whether err is a client side validation conflict.
func IsConflict(err error) bool {
	return goerrors.IsCategory(err, goerrors.CategoryConflict)
}

// Message returns a human readable message for any error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *goerrors.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}
