package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", ExitFailure)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}

	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}

	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternal.Code {
		t.Fatalf("expected internal code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestSentinelMatchingSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("probe users: %w", ErrPermissionDenied.WithInternal(stdErrors.New("code 13")))

	if !stdErrors.Is(err, ErrPermissionDenied) {
		t.Fatal("expected wrapped copy to match its sentinel")
	}
	if stdErrors.Is(err, ErrProbeFailed) {
		t.Fatal("did not expect a match against a different sentinel")
	}
}

func TestExitCodeFor(t *testing.T) {
	if code := ExitCodeFor(nil); code != ExitOK {
		t.Fatalf("expected %d for nil error, got %d", ExitOK, code)
	}
	if code := ExitCodeFor(ErrRemediationPartial); code != ExitDegraded {
		t.Fatalf("expected %d for partial remediation, got %d", ExitDegraded, code)
	}
	if code := ExitCodeFor(stdErrors.New("raw")); code != ExitFailure {
		t.Fatalf("expected %d for raw error, got %d", ExitFailure, code)
	}
}
