package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeAuth, status: http.StatusUnauthorized, detailsOK: true},
		{code: CodeTransientUpstream, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodeDataIntegrity, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeGuardrailViolation, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeConcurrencyConflict, status: http.StatusConflict, detailsOK: true},
		{code: CodeTimeout, status: http.StatusGatewayTimeout, retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s missing public message", tt.code)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing shop")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing shop" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"field": "shop"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeTransientUpstream, cause, "fetch orders")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeTransientUpstream {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestIsCodeThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("sync products: %w", New(CodeAuth, "token rejected"))
	if !IsCode(err, CodeAuth) {
		t.Fatalf("expected auth code through wrapping")
	}
	if IsCode(err, CodeTransientUpstream) {
		t.Fatalf("unexpected transient match")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("plain errors should map to internal")
	}
	if !IsRetryable(New(CodeTransientUpstream, "x")) {
		t.Fatalf("transient upstream should be retryable")
	}
	if IsRetryable(New(CodeGuardrailViolation, "x")) {
		t.Fatalf("guardrail violation should not be retryable")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeGuardrailViolation, "at floor")
	if got := As(err); got == nil || got.Code() != CodeGuardrailViolation {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	msg := "shopify orders failed: " + strings.Repeat("é", 600)
	got := Truncate(msg, 1000)
	if len(got) > 1000 {
		t.Fatalf("expected at most 1000 bytes, got %d", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune")
	}
	if !strings.HasPrefix(got, "shopify orders failed: é") {
		t.Fatalf("unexpected prefix %q", got[:30])
	}

	if got := Truncate("bad \xff\x00byte", 100); got != "bad �byte" {
		t.Fatalf("expected invalid bytes replaced and NUL dropped, got %q", got)
	}
	if got := Truncate("short", 100); got != "short" {
		t.Fatalf("short strings pass through, got %q", got)
	}
}

func TestOperatorDetailIncludesCodeAndPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_sync_runs_in_flight",
		TableName:      "sync_runs",
		Detail:         "Key (in_flight_key) already exists.",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeDependency, fmt.Errorf("insert: %w", pgErr), "create sync run")

	d := Dump(err)
	if d.Code != CodeDependency || d.PGCode != "23505" || len(d.Chain) != 3 {
		t.Fatalf("unexpected dump %+v", d)
	}
	detail := d.Detail(1000)
	for _, want := range []string{"DEPENDENCY_ERROR: create sync run", "[pg 23505 ux_sync_runs_in_flight on sync_runs: Key (in_flight_key) already exists.]"} {
		if !strings.Contains(detail, want) {
			t.Fatalf("detail %q missing %q", detail, want)
		}
	}
	if got := OperatorDetail(err, 20); len(got) > 20 || !strings.HasPrefix(got, "DEPENDENCY_ERROR") {
		t.Fatalf("expected bounded detail, got %q", got)
	}
	if OperatorDetail(nil, 100) != "" {
		t.Fatalf("nil error has no detail")
	}
}
