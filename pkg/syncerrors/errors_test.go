package syncerrors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassPredicatesSeeThroughWrapping(t *testing.T) {
	base := &TransportError{Service: "wavelog", Reason: errors.New("connection reset")}
	wrapped := fmt.Errorf("fetch page 2: %w", base)

	if !IsTransport(wrapped) {
		t.Fatal("expected wrapped transport error to be recognised")
	}
	if IsAuthentication(wrapped) || IsValidation(wrapped) || IsMaintenance(wrapped) {
		t.Fatal("transport error matched an unrelated class")
	}
}

func TestMaintenanceErrorMessage(t *testing.T) {
	until := time.Date(2025, 3, 5, 2, 0, 0, 0, time.UTC)
	err := &MaintenanceError{Service: "pota", Until: until}
	want := "pota: inside maintenance window until 2025-03-05T02:00:00Z"
	if err.Error() != want {
		t.Fatalf("unexpected message: %s", err.Error())
	}

	open := &MaintenanceError{Service: "pota"}
	if open.Error() != "pota: inside maintenance window" {
		t.Fatalf("unexpected open-ended message: %s", open.Error())
	}
}

func TestAuthenticationUnwrap(t *testing.T) {
	sentinel := errors.New("invalid session key")
	err := &AuthenticationError{Service: "qrz", Reason: sentinel}
	if !errors.Is(err, sentinel) {
		t.Fatal("expected Unwrap to expose the underlying reason")
	}
}
