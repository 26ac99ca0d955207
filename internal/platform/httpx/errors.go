// Package httpx renders the JSON error envelope and negotiates request languages.
package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrDuplicate      = errors.New("duplicate entry")
	ErrValidation     = errors.New("validation failed")
	ErrForbidden      = errors.New("forbidden")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("too many requests")
	ErrNotImplemented = errors.New("not implemented")
)

// Error is an explicit application error carrying its HTTP status.
type Error struct {
	Code    int
	Message string
	Details []string
}

// APIError builds an Error. A message containing newlines is split: the first
// line becomes the message and the remaining lines are prepended to details.
func APIError(code int, message string, details ...string) *Error {
	lines := strings.Split(message, "\n")
	e := &Error{Code: code, Message: strings.TrimSpace(lines[0])}
	for _, line := range lines[1:] {
		if line = strings.TrimSpace(line); line != "" {
			e.Details = append(e.Details, line)
		}
	}
	e.Details = append(e.Details, details...)
	return e
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s (%s)", e.Code, e.Message, strings.Join(e.Details, "; "))
}

// Responder is implemented by domain errors that choose their own response.
type Responder interface {
	Response() *Error
}

// Body is the error envelope payload.
type Body struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Envelope is the uniform error response.
type Envelope struct {
	Error Body `json:"error"`
}

// Problem writes the error envelope.
func Problem(w http.ResponseWriter, status int, message string, details ...string) {
	JSON(w, status, Envelope{Error: Body{Code: status, Message: message, Details: details}})
}

// RespondError maps err to the error envelope. Transport failures are logged
// and never leak their cause to the client.
func RespondError(w http.ResponseWriter, err error) {
	var (
		apiErr     *Error
		responder  Responder
		validation validator.ValidationErrors
	)
	switch {
	case errors.As(err, &responder):
		resp := responder.Response()
		Problem(w, resp.Code, resp.Message, resp.Details...)
	case errors.As(err, &apiErr):
		Problem(w, apiErr.Code, apiErr.Message, apiErr.Details...)
	case errors.As(err, &validation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", fieldErrors(validation)...)
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, db.ErrNoRows), errors.Is(err, shared.ErrNotFound), errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found")
	case errors.Is(err, db.ErrIntegrity), errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Conflict")
	case errors.Is(err, db.ErrOperational), errors.Is(err, db.ErrInterface):
		slog.Error("database unavailable", slog.Any("error", err))
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable")
	case errors.Is(err, ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, ErrRateLimited):
		Problem(w, http.StatusTooManyRequests, "Too Many Requests")
	case errors.Is(err, ErrNotImplemented):
		Problem(w, http.StatusNotImplemented, "Not Implemented")
	default:
		slog.Error("unhandled error", slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error")
	}
}

func fieldErrors(errs validator.ValidationErrors) []string {
	out := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s: %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return out
}
