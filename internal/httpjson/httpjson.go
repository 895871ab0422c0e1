// Package httpjson holds the request/response helpers shared by the handlers.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// Write encodes v with the given status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Decode reads a JSON body into v. Unknown fields are rejected.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.KindValidation, "request body is required")
		}
		return apperr.WithFields(apperr.KindValidation, "invalid JSON body", []apperr.FieldError{
			{Field: "body", Message: err.Error()},
		})
	}
	return nil
}

// Page is a parsed limit/offset pair.
type Page struct {
	Limit  int
	Offset int
}

// Pagination reads limit and offset. Bad values are reported together.
func Pagination(r *http.Request, defaultLimit, maxLimit int) (Page, error) {
	p := Page{Limit: defaultLimit}
	var fields []apperr.FieldError
	q := r.URL.Query()

	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxLimit {
			fields = append(fields, apperr.FieldError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxLimit)})
		} else {
			p.Limit = v
		}
	}
	if s := strings.TrimSpace(q.Get("offset")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			fields = append(fields, apperr.FieldError{Field: "offset", Message: "must be a non-negative integer"})
		} else {
			p.Offset = v
		}
	}
	if len(fields) > 0 {
		return Page{}, apperr.WithFields(apperr.KindValidation, "invalid pagination", fields)
	}
	return p, nil
}

// PathID parses the {id} path value.
func PathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.WithFields(apperr.KindValidation, "invalid id", []apperr.FieldError{
			{Field: "id", Message: "must be a UUID"},
		})
	}
	return id, nil
}

// Identity returns the caller or an unauthorized error.
func Identity(r *http.Request) (userctx.Identity, error) {
	id, ok := userctx.GetIdentity(r.Context())
	if !ok {
		return userctx.Identity{}, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	return id, nil
}

// WriteAttachment streams data as a named file download.
func WriteAttachment(w http.ResponseWriter, fileName, contentType string, data []byte) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
	if disposition == "" {
		disposition = `attachment; filename="download"`
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
