package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/httpx"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/validate"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/domain"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/service"
)

type Handlers struct {
	svc *service.PaymentService
}

func NewHandlers(svc *service.PaymentService) *Handlers {
	return &Handlers{svc: svc}
}

type paymentResponse struct {
	PaymentID     string     `json:"paymentId"`
	BookingID     string     `json:"bookingId"`
	Amount        int64      `json:"amount"`
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transactionId,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	RetryCount    int        `json:"retryCount"`
	LastRetryAt   *time.Time `json:"lastRetryAt,omitempty"`
	CorrelationID string     `json:"correlationId"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

func toPaymentResponse(p *domain.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:     p.ID,
		BookingID:     p.BookingID,
		Amount:        p.Amount,
		Method:        p.Method,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		ErrorMessage:  p.ErrorMessage,
		RetryCount:    p.RetryCount,
		LastRetryAt:   p.LastRetryAt,
		CorrelationID: p.CorrelationID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		ProcessedAt:   p.ProcessedAt,
	}
}

// requireOperator gates the payment surface. Charges normally arrive over
// the broker; the HTTP endpoints exist for operators and tooling.
func requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if !httpx.HasRole(r, "admin") {
		httpx.FailErr(w, r, apperr.NewForbidden("operator role required"))
		return false
	}
	return true
}

type payRequest struct {
	BookingID string `json:"bookingId" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Method    string `json:"method"`
}

func (h *Handlers) pay(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var req payRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid json body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.FailErr(w, r, err)
		return
	}

	p, err := h.svc.Process(r.Context(), service.ProcessInput{
		BookingID: req.BookingID,
		Amount:    req.Amount,
		Method:    req.Method,
	})
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, toPaymentResponse(p))
}

type retryRequest struct {
	BookingID string `json:"bookingId" validate:"required,uuid"`
	Method    string `json:"method"`
}

// retry re-runs a failed charge. The exhausting call answers 200 with the
// PERMANENTLY_FAILED representation; only business denials are 4xx.
func (h *Handlers) retry(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var req retryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid json body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.FailErr(w, r, err)
		return
	}

	p, err := h.svc.Retry(r.Context(), service.RetryInput{
		BookingID: req.BookingID,
		Method:    req.Method,
	})
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, toPaymentResponse(p))
}

func (h *Handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, toPaymentResponse(p))
}
