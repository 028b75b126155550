package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/lingo/internal/apperr"
	"github.com/dukerupert/lingo/internal/i18n"
	"github.com/dukerupert/lingo/internal/middleware"
)

// Responder writes JSON bodies with messages translated for the request's
// Accept-Language.
type Responder struct {
	tr     *i18n.Translator
	logger *slog.Logger
}

func NewResponder(tr *i18n.Translator, logger *slog.Logger) *Responder {
	return &Responder{tr: tr, logger: logger}
}

type errorBody struct {
	Path             string            `json:"path"`
	Timestamp        int64             `json:"timestamp"`
	Message          string            `json:"message"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
}

type messageBody struct {
	Message string `json:"message"`
}

func (rs *Responder) translate(r *http.Request, key string) string {
	return rs.tr.Message(r.Header.Get("Accept-Language"), key)
}

// Message writes {"message": ...} for key.
func (rs *Responder) Message(w http.ResponseWriter, r *http.Request, status int, key string) {
	writeJSON(w, status, messageBody{Message: rs.translate(r, key)})
}

// Error maps err onto a status and the standard error body.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		rs.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.RequestID(r.Context()),
			"error", err,
		)
	}

	body := errorBody{
		Path:      r.URL.RequestURI(),
		Timestamp: time.Now().UnixMilli(),
		Message:   rs.translate(r, apperr.MessageKey(err)),
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body.ValidationErrors = make(map[string]string, len(ve.Fields))
		for field, key := range ve.Fields {
			body.ValidationErrors[field] = rs.translate(r, key)
		}
	}
	writeJSON(w, status, body)
}

// TooManyRequests is the rate limiter's rejection response.
func (rs *Responder) TooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Path:      r.URL.RequestURI(),
		Timestamp: time.Now().UnixMilli(),
		Message:   rs.translate(r, "too_many_requests"),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v. An empty body leaves v zeroed.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
