package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"
)

func TestMetadataFor(t *testing.T) {
	tests := []struct {
		code       Code
		wantStatus int
		retryable  bool
	}{
		{CodeValidation, http.StatusBadRequest, false},
		{CodeUnauthorized, http.StatusUnauthorized, false},
		{CodeInsufficientBalance, http.StatusPaymentRequired, false},
		{CodeUpstreamMismatch, http.StatusUnprocessableEntity, false},
		{CodeIdempotency, http.StatusConflict, false},
		{CodeInternal, http.StatusInternalServerError, true},
		{Code("SOMETHING_UNKNOWN"), http.StatusInternalServerError, true},
	}

	for _, tc := range tests {
		meta := MetadataFor(tc.code)
		if meta.HTTPStatus != tc.wantStatus {
			t.Fatalf("MetadataFor(%s) status = %d, want %d", tc.code, meta.HTTPStatus, tc.wantStatus)
		}
		if meta.Retryable != tc.retryable {
			t.Fatalf("MetadataFor(%s) retryable = %v, want %v", tc.code, meta.Retryable, tc.retryable)
		}
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeDependency, cause, "commit ledger entry")

	if err.Code() != CodeDependency {
		t.Fatalf("code = %s, want %s", err.Code(), CodeDependency)
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if got := err.Error(); got != "DEPENDENCY_ERROR: commit ledger entry" {
		t.Fatalf("unexpected Error(): %q", got)
	}
}

func TestAs(t *testing.T) {
	if As(nil) != nil {
		t.Fatal("As(nil) should be nil")
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatal("As(plain error) should be nil")
	}

	typed := New(CodeInsufficientBalance, "balance too low").WithDetails(map[string]any{"balance": 70})
	wrapped := Wrap(CodeInternal, typed, "outer")
	got := As(wrapped)
	if got == nil {
		t.Fatal("expected typed error from chain")
	}
	if got.Code() != CodeInternal {
		t.Fatalf("outer code = %s, want %s", got.Code(), CodeInternal)
	}
}

func TestDumpCollectsChain(t *testing.T) {
	cause := stdErrors.New("root cause")
	err := Wrap(CodeConflict, cause, "middle")

	d := Dump(err)
	if d.Code != CodeConflict {
		t.Fatalf("dump code = %s, want %s", d.Code, CodeConflict)
	}
	if len(d.Chain) < 2 {
		t.Fatalf("expected chain of at least 2, got %d", len(d.Chain))
	}
}
