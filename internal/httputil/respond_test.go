package httputil

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openshelf/library-service/internal/errors"
)

func TestWriteErrorMapsServiceErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.Conflict(errors.ReasonOutOfStock))

	if rec.Code != 409 {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != string(errors.CodeConflict) {
		t.Fatalf("expected CONFLICT code, got %s", body.Code)
	}
	if body.Error != errors.ReasonOutOfStock {
		t.Fatalf("expected reason in message, got %q", body.Error)
	}
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, io.ErrUnexpectedEOF)

	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "unexpected EOF") {
		t.Fatal("internal error details must not leak")
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	body := io.NopCloser(strings.NewReader(`{"name":"x","bogus":1}`))
	if err := DecodeJSON(body, &dst); !errors.IsCode(err, errors.CodeBadRequest) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestDecodeJSONValid(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	body := io.NopCloser(strings.NewReader(`{"name":"x"}`))
	if err := DecodeJSON(body, &dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dst.Name != "x" {
		t.Fatalf("expected x, got %s", dst.Name)
	}
}
