package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	e := New(InvalidArgument, "bad input")
	if e.Error() != "invalid_argument: bad input" {
		t.Errorf("unexpected message: %s", e.Error())
	}

	wrapped := Wrap(NetworkError, "dial failed", errors.New("connection refused"))
	if wrapped.Error() != "network_error: dial failed: connection refused" {
		t.Errorf("unexpected wrapped message: %s", wrapped.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := Wrap(TimedOut, "op timed out", cause)
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != OK {
		t.Error("expected OK for nil error")
	}
	if KindOf(errors.New("plain")) != InternalError {
		t.Error("expected InternalError for a plain error")
	}
	if KindOf(New(RateLimited, "too many")) != RateLimited {
		t.Error("expected RateLimited")
	}

	wrapped := fmt.Errorf("context: %w", New(NotFound, "missing"))
	if KindOf(wrapped) != NotFound {
		t.Errorf("expected NotFound through fmt.Errorf wrapping, got %s", KindOf(wrapped))
	}
}

func TestWrapf(t *testing.T) {
	e := Wrapf(ParseError, errors.New("eof"), "decode %s", "body")
	if e.Message != "decode body" {
		t.Errorf("unexpected message: %s", e.Message)
	}
	if e.Kind != ParseError {
		t.Errorf("unexpected kind: %s", e.Kind)
	}
}
