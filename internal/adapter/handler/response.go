package handler

import (
	"errors"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/query"
	"github.com/rl1809/library-management/internal/lib/reqid"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type DataResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    any         `json:"data"`
	Meta    *query.Meta `json:"meta,omitempty"`
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

const msgInternal = "Internal server error"

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, DataResponse{Success: true, Message: message, Data: data})
}

func writeValidation(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Success: false,
		Message: "Validation failed",
		Errors:  fields,
	})
}

// writeError is the single place where error kinds become status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	message := msgInternal
	if status != http.StatusInternalServerError {
		var derr *domain.Error
		if errors.As(err, &derr) {
			message = derr.Message
		} else {
			message = err.Error()
		}
	} else {
		slog.Error(
			"request failed",
			slog.String("op", "handler.writeError"),
			slog.String("rqID", reqid.FromCtx(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("err", err.Error()),
		)
	}

	writeJSON(w, status, MessageResponse{Success: false, Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInsufficientCopies),
		errors.Is(err, domain.ErrMalformedID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoRecords):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// bookView renders a book without the internal version marker.
func bookView(b *domain.Book) map[string]any {
	return query.Projection{Exclude: []string{domain.FieldVersion}}.Apply(b.Document())
}
