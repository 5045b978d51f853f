package apperror

import (
	"errors"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without field",
			err:  New(CodeRasterizeFailed, "screenshot failed"),
			want: "[RASTERIZE_FAILED] screenshot failed",
		},
		{
			name: "with field",
			err:  NewWithField(CodeConfigInvalid, "must be positive", "pool.max"),
			want: "[CONFIG_INVALID] must be positive (field: pool.max)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("navigation crashed")
	err := Wrap(cause, CodeRasterizeFailed, "could not rasterize")

	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap chain to reach cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeConfigInvalid, http.StatusBadRequest},
		{CodeCodeExecutionForbidden, http.StatusBadRequest},
		{CodeFileResourceForbidden, http.StatusBadRequest},
		{CodeQueueOverflow, http.StatusTooManyRequests},
		{CodeAcquireTimeout, http.StatusServiceUnavailable},
		{CodeRenderTimeout, http.StatusGatewayTimeout},
		{CodeRasterizeFailed, http.StatusInternalServerError},
		{CodeOutputEncodeFailed, http.StatusInternalServerError},
		{CodeBrowserUnavailable, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := HTTPStatus(tt.code); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(CodeQueueOverflow, "full")
	if !Is(err, CodeQueueOverflow) {
		t.Fatalf("expected Is to match CodeQueueOverflow")
	}
	if Is(err, CodeRenderTimeout) {
		t.Fatalf("expected Is to not match CodeRenderTimeout")
	}
	if Is(errors.New("plain"), CodeQueueOverflow) {
		t.Fatalf("expected Is to return false for a non-Error")
	}
}

func TestCode(t *testing.T) {
	if got := Code(New(CodeAcquireTimeout, "x")); got != CodeAcquireTimeout {
		t.Errorf("Code() = %s, want %s", got, CodeAcquireTimeout)
	}
	if got := Code(errors.New("plain")); got != CodeInternal {
		t.Errorf("Code() = %s, want %s", got, CodeInternal)
	}
}

func TestSeverityHelpers(t *testing.T) {
	w := NewWarning(CodeCacheUpdateFailed, "stale bundle retained")
	if !IsWarning(w) {
		t.Fatalf("expected IsWarning true")
	}

	c := NewCritical(CodePoolInitFailed, "pool could not reach min")
	if !IsCritical(c) {
		t.Fatalf("expected IsCritical true")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if !v.IsValid() {
		t.Fatalf("new collection should be valid")
	}

	v.AddError(CodeConfigInvalid, "pool.min must be >= 0")
	v.AddErrorWithField(CodeConfigInvalid, "pool.max must be >= min", "pool.max")

	if v.IsValid() {
		t.Fatalf("expected collection to be invalid after AddError")
	}
	if !v.HasErrors() {
		t.Fatalf("expected HasErrors true")
	}
	if len(v.ErrorMessages()) != 2 {
		t.Fatalf("expected 2 error messages, got %d", len(v.ErrorMessages()))
	}
}

func TestSeverity_String(t *testing.T) {
	tests := map[Severity]string{
		SeverityWarning:  "warning",
		SeverityError:    "error",
		SeverityCritical: "critical",
	}
	for sev, want := range tests {
		if got := sev.String(); got != want {
			t.Errorf("Severity(%d).String() = %q, want %q", sev, got, want)
		}
	}
}
