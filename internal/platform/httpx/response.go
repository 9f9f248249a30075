package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/reqctx"
)

// Envelope wraps every successful response body.
type Envelope struct {
	Data any `json:"data,omitempty"`
}

// ErrorBody wraps every error response body.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// Data writes a success envelope.
func Data(w http.ResponseWriter, r *http.Request, status int, v any) {
	JSON(w, r, status, Envelope{Data: v})
}

// Fail writes an error envelope, echoing the request id so a client report
// can be matched to server logs.
func Fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]any) {
	JSON(w, r, status, ErrorBody{Error: ErrorPayload{
		Code:      code,
		Message:   message,
		Meta:      meta,
		RequestID: reqctx.RequestID(r.Context()),
	}})
}

// FailErr maps a taxonomy error onto the wire. Unclassified errors become
// an opaque 500; their detail stays in the logs.
func FailErr(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.AppError
	if errors.As(err, &ae) {
		Fail(w, r, statusFor(ae.Code), string(ae.Code), ae.Message, nil)
		return
	}
	Fail(w, r, http.StatusInternalServerError, string(apperr.CodeInternal), "internal error", nil)
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeBusinessRule:
		return http.StatusUnprocessableEntity
	case apperr.CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
