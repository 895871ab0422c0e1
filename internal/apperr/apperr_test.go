package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := Newf(KindRangeTooLarge, "range of %d days exceeds 365", 400)
	wrapped := fmt.Errorf("create report: %w", err)

	if !errors.Is(wrapped, ErrRangeTooLarge) {
		t.Fatal("expected wrapped error to match ErrRangeTooLarge")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Fatal("did not expect match with ErrNotFound")
	}
	if KindOf(wrapped) != KindRangeTooLarge {
		t.Fatalf("expected kind range_too_large, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatal("foreign errors must map to internal_error")
	}
}

func TestWriteEnumeratesFields(t *testing.T) {
	err := WithFields(KindInvalidSchedule, "invalid schedule", []FieldError{
		{Field: "hour", Message: "must be between 0 and 23"},
		{Field: "minute", Message: "must be between 0 and 59"},
	})

	w := httptest.NewRecorder()
	Write(w, err)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var body struct {
		Error struct {
			Code   string       `json:"code"`
			Fields []FieldError `json:"fields"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "invalid_schedule" {
		t.Errorf("expected code invalid_schedule, got %s", body.Error.Code)
	}
	if len(body.Error.Fields) != 2 {
		t.Errorf("expected 2 fields, got %d", len(body.Error.Fields))
	}
}

func TestWriteForeignError(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, errors.New("db down"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
