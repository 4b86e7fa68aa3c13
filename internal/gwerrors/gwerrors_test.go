package gwerrors

import (
	"errors"
	"testing"
)

func TestNewDoesNotMutateSentinel(t *testing.T) {
	cause := errors.New("boom")
	got := New(ErrInvalidProjectID, cause)

	if got == ErrInvalidProjectID {
		t.Fatal("New must return a distinct copy, not the sentinel itself")
	}
	if ErrInvalidProjectID.Err != nil {
		t.Fatal("the package-level sentinel must remain unmodified")
	}
	if got.Err != cause {
		t.Fatalf("expected wrapped cause %v, got %v", cause, got.Err)
	}
	if got.Code != ErrInvalidProjectID.Code || got.HTTPStatus != ErrInvalidProjectID.HTTPStatus {
		t.Fatal("code and status must be copied from the sentinel")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying failure")
	got := New(ErrServiceException, cause)

	if !errors.Is(got, cause) {
		t.Fatal("errors.Is should see through Unwrap to the wrapped cause")
	}
}

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	withCause := New(ErrSerialize, errors.New("bad byte"))
	withoutCause := New(ErrSerialize, nil)

	if withCause.Error() == withoutCause.Error() {
		t.Fatal("expected the wrapped cause to change the error string")
	}
}
