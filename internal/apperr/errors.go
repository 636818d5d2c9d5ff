// Package apperr defines the error taxonomy shared by services and handlers.
// Services return *Error values (optionally wrapping a cause); handlers turn them
// into a status code and a machine-stable code without leaking the cause.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindNotFound
	KindUpstreamStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindUpstreamStorage:
		return "upstream_storage"
	default:
		return "internal"
	}
}

// Status is the default HTTP status for the kind. Handlers may narrow it where
// the route table says otherwise (login failures are 400, for example).
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Machine-stable codes returned to clients.
const (
	CodeInvalidBody          = "invalid_body"
	CodeValidation           = "validation_failed"
	CodeEmailTaken           = "email_taken"
	CodeUserNotFound         = "user_not_found"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeFederatedAccount     = "federated_account"
	CodeFederatedInvalid     = "federated_credential_invalid"
	CodeTokenMissing         = "token_missing"
	CodeTokenInvalid         = "token_invalid"
	CodeTokenExpired         = "token_expired"
	CodeImageRequired        = "image_required"
	CodeImageInvalid         = "image_invalid"
	CodeImageTooLarge        = "image_too_large"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeScanNotFound         = "scan_not_found"
	CodeStorageFailure       = "storage_failure"
	CodeRateLimited          = "rate_limited"
	CodeInternal             = "internal_error"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and code so that errors.Is works against
// the package-level templates below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }
func Auth(code, message string) *Error       { return New(KindAuth, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }

func Storage(message string, err error) *Error {
	return Wrap(KindUpstreamStorage, CodeStorageFailure, message, err)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, CodeInternal, message, err)
}

// Templates for errors.Is checks.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrAuth            = &Error{Kind: KindAuth}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrUpstreamStorage = &Error{Kind: KindUpstreamStorage}
	ErrInternal        = &Error{Kind: KindInternal}
)

// As extracts the *Error in err's chain. Anything that is not one is reported
// as an internal error wrapping the original.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("Internal server error", err)
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) Kind {
	return As(err).Kind
}
