package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the machine-readable error category carried in every error response.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindInvalidReference  Kind = "invalid_reference"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidSchedule   Kind = "invalid_schedule"
	KindRangeTooLarge     Kind = "range_too_large"
	KindInvalidDateRange  Kind = "invalid_date_range"
	KindInvalidSortField  Kind = "invalid_sort_field"
	KindGenerationTimeout Kind = "generation_timeout"
	KindCancelledByUser   Kind = "cancelled_by_user"
	KindTemplateInvalid   Kind = "template_structure_invalid"
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal_error"
)

// Sentinels for errors.Is checks. Matching is by kind only.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidReference  = &Error{Kind: KindInvalidReference}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrInvalidSchedule   = &Error{Kind: KindInvalidSchedule}
	ErrRangeTooLarge     = &Error{Kind: KindRangeTooLarge}
	ErrInvalidDateRange  = &Error{Kind: KindInvalidDateRange}
	ErrInvalidSortField  = &Error{Kind: KindInvalidSortField}
	ErrGenerationTimeout = &Error{Kind: KindGenerationTimeout}
	ErrCancelledByUser   = &Error{Kind: KindCancelledByUser}
	ErrTemplateInvalid   = &Error{Kind: KindTemplateInvalid}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrConflict          = &Error{Kind: KindConflict}
)

// FieldError names one offending field or value.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the application error type shared by every layer.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.Field + ": " + f.Message
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithFields builds an error that enumerates every offending field.
func WithFields(kind Kind, message string, fields []FieldError) *Error {
	return &Error{Kind: kind, Message: message, Fields: fields}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(entity string) *Error {
	return Newf(KindNotFound, "%s not found", entity)
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Status maps an error kind to its HTTP status.
func Status(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidReference, KindInvalidSchedule, KindRangeTooLarge,
		KindInvalidDateRange, KindInvalidSortField, KindTemplateInvalid:
		return http.StatusBadRequest
	case KindInvalidTransition, KindConflict, KindCancelledByUser:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindGenerationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// Write renders err as the JSON error envelope.
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		WriteCode(w, http.StatusInternalServerError, string(KindInternal), err.Error(), nil)
		return
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	WriteCode(w, Status(e.Kind), string(e.Kind), msg, e.Fields)
}

// WriteCode writes an error envelope with an explicit status and code.
func WriteCode(w http.ResponseWriter, status int, code, message string, fields []FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:    code,
		Message: message,
		Fields:  fields,
	}})
}
