package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NotFound("payment batch", "b1")); got != ErrCodeNotFound {
		t.Fatalf("CodeOf = %s, want %s", got, ErrCodeNotFound)
	}
	if got := CodeOf(stderrors.New("plain")); got != ErrCodeInternal {
		t.Fatalf("CodeOf(plain) = %s, want %s", got, ErrCodeInternal)
	}

	// The code survives fmt wrapping.
	wrapped := fmt.Errorf("handling request: %w", Conflict("boom"))
	if !IsCode(wrapped, ErrCodeConflict) {
		t.Fatal("IsCode must see through fmt wrapping")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, ErrCodeInternal, "query batches")
	if !stderrors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
}

func TestDetails(t *testing.T) {
	err := Conflict("duplicate record").WithDetail("constraint", "idempotency_key_operation")
	if got := DetailOf(err, "constraint"); got != "idempotency_key_operation" {
		t.Fatalf("DetailOf = %v", got)
	}
	if got := DetailOf(err, "missing"); got != nil {
		t.Fatalf("DetailOf(missing) = %v, want nil", got)
	}
	if got := DetailOf(stderrors.New("plain"), "constraint"); got != nil {
		t.Fatalf("DetailOf(plain) = %v, want nil", got)
	}
}

func TestInvalidInputCarriesField(t *testing.T) {
	err := InvalidInput("currency", "currency must be a 3-letter ISO code")
	if err.Code != ErrCodeValidation {
		t.Fatalf("code = %s", err.Code)
	}
	if err.Detail("field") != "currency" {
		t.Fatalf("field detail = %v", err.Detail("field"))
	}
}
