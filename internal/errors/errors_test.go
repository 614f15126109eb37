package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestConstructorsCarryCodeAndStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    *ServiceError
		code   Code
		status int
	}{
		{"not found", NotFound("book", "b1"), CodeNotFound, http.StatusNotFound},
		{"conflict", Conflict(ReasonOutOfStock), CodeConflict, http.StatusConflict},
		{"transient", TransientConflict(fmt.Errorf("deadlock")), CodeTransientConflict, http.StatusConflict},
		{"invariant", Invariant("counter negative"), CodeInvariant, http.StatusInternalServerError},
		{"bad request", BadRequest("missing field"), CodeBadRequest, http.StatusBadRequest},
		{"unauthorized", Unauthorized("no token"), CodeUnauthorized, http.StatusUnauthorized},
		{"forbidden", Forbidden("admin only"), CodeForbidden, http.StatusForbidden},
		{"rate limited", RateLimited("slow down"), CodeRateLimited, http.StatusTooManyRequests},
		{"internal", Internal("boom", fmt.Errorf("cause")), CodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Fatalf("%s: expected code %s, got %s", tc.name, tc.code, tc.err.Code)
		}
		if tc.err.HTTPStatus != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, tc.err.HTTPStatus)
		}
	}
}

func TestConflictReasonMatching(t *testing.T) {
	err := Conflict(ReasonAlreadyBorrowed)

	if !IsConflict(err) {
		t.Fatal("expected IsConflict")
	}
	if !IsConflictReason(err, ReasonAlreadyBorrowed) {
		t.Fatal("expected reason match")
	}
	if IsConflictReason(err, ReasonOutOfStock) {
		t.Fatal("unexpected reason match")
	}
	if IsConflictReason(fmt.Errorf("plain"), ReasonAlreadyBorrowed) {
		t.Fatal("plain errors must not match")
	}
}

func TestWrappedServiceErrorIsRecognised(t *testing.T) {
	inner := NotFound("loan", "l1")
	wrapped := fmt.Errorf("find loan: %w", inner)

	if !IsNotFound(wrapped) {
		t.Fatal("expected NotFound through the wrap")
	}
	if got := GetServiceError(wrapped); got != inner {
		t.Fatalf("expected the inner service error, got %v", got)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("driver fault")
	err := TransientConflict(cause)

	if err.Unwrap() != cause {
		t.Fatal("expected Unwrap to return the cause")
	}
}

func TestWithDetails(t *testing.T) {
	err := Invariant("counter negative").
		WithDetails("book_id", "b1").
		WithDetails("delta", -1)

	if err.Details["book_id"] != "b1" || err.Details["delta"] != -1 {
		t.Fatalf("unexpected details: %v", err.Details)
	}
}
