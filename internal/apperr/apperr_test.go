package apperr

import (
	"errors"
	"testing"
)

func TestStatusForKnownKinds(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{NotFound, 404},
		{Conflict, 409},
		{InvalidArgument, 400},
		{ProjectNotActive, 400},
		{ReadinessTimeout, 504},
		{CloneFailed, 200},
		{OrchestratorError, 502},
		{StorageUnavailable, 503},
		{UpstreamError, 502},
		{Cancelled, 499},
	}
	for _, tt := range tests {
		err := New(tt.kind, "boom")
		if got := StatusFor(err); got != tt.want {
			t.Errorf("StatusFor(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestStatusForUnrecognizedErrorIs500(t *testing.T) {
	if got := StatusFor(errors.New("plain error")); got != 500 {
		t.Errorf("StatusFor(plain error) = %d, want 500", got)
	}
}

func TestCodeMatchesKind(t *testing.T) {
	err := New(ProjectNotActive, "not active")
	if got := Code(err); got != "project_not_active" {
		t.Errorf("Code() = %q, want project_not_active", got)
	}
}

func TestCodeForUnrecognizedErrorIsInternalError(t *testing.T) {
	if got := Code(errors.New("plain error")); got != "internal_error" {
		t.Errorf("Code(plain error) = %q, want internal_error", got)
	}
}

func TestIsAndKindOf(t *testing.T) {
	err := New(CloneFailed, "clone failed")
	if !Is(err, CloneFailed) {
		t.Error("expected Is(err, CloneFailed) to be true")
	}
	if Is(err, NotFound) {
		t.Error("expected Is(err, NotFound) to be false")
	}
	if KindOf(err) != CloneFailed {
		t.Errorf("KindOf() = %q, want clone_failed", KindOf(err))
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	wrapped := Wrap(OrchestratorError, "applying deployment", cause)

	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if KindOf(wrapped) != OrchestratorError {
		t.Errorf("KindOf(wrapped) = %q, want orchestrator_error", KindOf(wrapped))
	}
}

func TestKindOfDefaultsToEmptyForForeignErrors(t *testing.T) {
	if KindOf(errors.New("not ours")) != "" {
		t.Error("expected empty Kind for an error not produced by this package")
	}
}
