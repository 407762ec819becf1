package apperrors

import (
	"errors"
	"testing"
)

func TestServiceErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("row locked")
	err := New("notes.update_note", "version_conflict", ErrConflict, "refresh and retry", cause)

	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("did not expect not found kind")
	}
	if CodeOf(err) != "notes.update_note.version_conflict" {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
}

func TestInternalErrorHasNoKind(t *testing.T) {
	err := Internal("chat.post_message", "insert_failed", errors.New("disk full"))

	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error")
	}
	if serviceErr.Kind() != nil {
		t.Fatalf("expected nil kind, got %v", serviceErr.Kind())
	}
	if serviceErr.Message() != "internal error" {
		t.Fatalf("unexpected message %q", serviceErr.Message())
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if code := CodeOf(errors.New("plain")); code != "" {
		t.Fatalf("expected empty code, got %q", code)
	}
}
