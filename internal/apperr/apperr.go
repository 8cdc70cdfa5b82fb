// Package apperr defines the error kinds surfaced by the relay API and maps
// them to HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthRequired
	KindOwnershipDenied
	KindNotFound
	KindTransportFailure
	KindStoreFailure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthRequired:
		return "auth_required"
	case KindOwnershipDenied:
		return "ownership_denied"
	case KindNotFound:
		return "not_found"
	case KindTransportFailure:
		return "transport_failure"
	case KindStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Error is an error with a Kind. Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func AuthRequired() error {
	return &Error{Kind: KindAuthRequired, Message: "Authentication required"}
}

func OwnershipDenied() error {
	return &Error{Kind: KindOwnershipDenied, Message: "Collection not found or not owned by caller"}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func TransportFailure(err error) error {
	return &Error{Kind: KindTransportFailure, Message: "Request failed", Err: err}
}

func StoreFailure(msg string, err error) error {
	return &Error{Kind: KindStoreFailure, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindOwnershipDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
