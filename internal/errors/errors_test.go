package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestAppErrorFormat(t *testing.T) {
	plain := New(ErrNotFound, "message 7 not found")
	if plain.Error() != "[NOT_FOUND] message 7 not found" {
		t.Errorf("Unexpected format: %s", plain.Error())
	}

	wrapped := Wrap(ErrStorageUnavailable, "cannot open database", errors.New("disk full"))
	if !strings.Contains(wrapped.Error(), "STORAGE_UNAVAILABLE") ||
		!strings.Contains(wrapped.Error(), "disk full") {
		t.Errorf("Unexpected format: %s", wrapped.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(ErrStorageUnavailable, "cannot open database", cause)

	if !errors.Is(wrapped, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
}

func TestIs(t *testing.T) {
	err := New(ErrLeaseHeld, "another process is draining the queue")

	if !Is(err, ErrLeaseHeld) {
		t.Error("Expected match on own code")
	}
	if Is(err, ErrNotFound) {
		t.Error("Expected no match on other code")
	}
	if Is(errors.New("plain"), ErrNotFound) {
		t.Error("Expected no match on plain error")
	}
	if Is(nil, ErrNotFound) {
		t.Error("Expected no match on nil")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(New(ErrInvalid, "bad input")) != ErrInvalid {
		t.Error("Expected INVALID_INPUT")
	}
	if CodeOf(errors.New("plain")) != ErrInternal {
		t.Error("Expected plain errors to map to INTERNAL_ERROR")
	}
}
