package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestRefinementsCopy(t *testing.T) {
	base := New("EVENT_FULL", "Event is at capacity", 409)
	with := base.WithInternal(stdErrors.New("ledger")).WithMessage("no seats left").WithDetail("capacity", 40)

	if base.Internal != nil || base.Message != "Event is at capacity" || base.Details != nil {
		t.Fatal("sentinel must not be mutated")
	}
	if with.Error() != "no seats left: ledger" {
		t.Fatalf("unexpected error string: %s", with.Error())
	}
	if with.Details["capacity"] != 40 {
		t.Fatalf("unexpected details: %v", with.Details)
	}

	again := with.WithDetail("confirmed", 40)
	if _, leaked := with.Details["confirmed"]; leaked {
		t.Fatal("details must be copied, not shared")
	}
	if len(again.Details) != 2 {
		t.Fatalf("expected both details, got %v", again.Details)
	}
}

func TestCopiesMatchSentinel(t *testing.T) {
	custom := ErrConflict.WithMessage("event is full")
	if !stdErrors.Is(custom, ErrConflict) {
		t.Fatal("expected copy with message to match sentinel")
	}

	wrapped := fmt.Errorf("rsvp service: %w", ErrNotFound.WithInternal(stdErrors.New("missing row")))
	if !stdErrors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected wrapped copy to match sentinel")
	}
	if stdErrors.Is(wrapped, ErrConflict) {
		t.Fatal("did not expect different code to match")
	}
	if !stdErrors.Is(wrapped, wrapped.(interface{ Unwrap() error }).Unwrap()) {
		t.Fatal("expected unwrap chain to be intact")
	}
}

func TestFromError(t *testing.T) {
	if out := FromError(ErrNotFound); out != ErrNotFound {
		t.Fatal("expected FromError to return the same AppError instance")
	}
	if FromError(nil) != nil {
		t.Fatal("expected nil for nil")
	}

	out := FromError(fmt.Errorf("quota: %w", stdErrors.New("deadlock")))
	if out.Code != ErrInternalServer.Code || out.Internal == nil {
		t.Fatalf("expected wrapped internal error, got %+v", out)
	}
}

func TestNilReceivers(t *testing.T) {
	var e *AppError
	if e.Error() != "<nil>" || e.Unwrap() != nil || e.WithDetail("k", 1) != nil || e.Is(ErrNotFound) {
		t.Fatal("nil AppError must be inert")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code || err.StatusCode != ErrBadRequest.StatusCode {
		t.Fatalf("unexpected error: %+v", err)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
}
