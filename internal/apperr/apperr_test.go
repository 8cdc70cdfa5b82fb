package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindAndStatus(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{Validation("URL is required"), KindValidation, http.StatusBadRequest},
		{AuthRequired(), KindAuthRequired, http.StatusUnauthorized},
		{OwnershipDenied(), KindOwnershipDenied, http.StatusForbidden},
		{NotFound("missing"), KindNotFound, http.StatusNotFound},
		{TransportFailure(cause), KindTransportFailure, http.StatusInternalServerError},
		{StoreFailure("Failed to save", cause), KindStoreFailure, http.StatusInternalServerError},
		{cause, KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			// Wrapping must not hide the kind.
			wrapped := fmt.Errorf("handler: %w", tt.err)
			if got := KindOf(wrapped); got != tt.kind {
				t.Errorf("KindOf = %s, want %s", got, tt.kind)
			}
			if got := HTTPStatus(KindOf(tt.err)); got != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := TransportFailure(cause)

	if err.Error() != "Request failed: dial tcp: connection refused" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be reachable with errors.Is")
	}
	if AuthRequired().Error() != "Authentication required" {
		t.Errorf("Unexpected message: %s", AuthRequired().Error())
	}
}
