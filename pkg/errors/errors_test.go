package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	err := Wrap(stdErrors.New("boom"), "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	with := ErrWatermarkPersist.WithInternal(stdErrors.New("disk full"))

	if with == ErrWatermarkPersist {
		t.Fatal("expected WithInternal to return a copy")
	}
	if ErrWatermarkPersist.Internal != nil {
		t.Fatal("expected sentinel to remain unchanged")
	}
	if !stdErrors.Is(with, ErrWatermarkPersist) {
		t.Fatal("expected copy to match its sentinel by code")
	}
	if stdErrors.Is(with, ErrHiddenPersist) {
		t.Fatal("expected copy not to match a different sentinel")
	}
}

func TestIsThroughWrapping(t *testing.T) {
	cause := stdErrors.New("redis down")
	err := fmt.Errorf("controller: mark seen: %w", ErrWatermarkPersist.WithInternal(cause))

	if !stdErrors.Is(err, ErrWatermarkPersist) {
		t.Fatal("expected wrapped error to match sentinel")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped error to expose its cause")
	}
}

func TestFromError(t *testing.T) {
	if out := FromError(ErrUnknownCategory); out != ErrUnknownCategory {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	out := FromError(stdErrors.New("raw"))
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.StatusCode != ErrBadRequest.StatusCode {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}
