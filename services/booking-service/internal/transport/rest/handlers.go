package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/httpx"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/reqctx"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/validate"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/booking-service/internal/domain"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/booking-service/internal/service"
)

type Handlers struct {
	svc *service.BookingService
}

func NewHandlers(svc *service.BookingService) *Handlers {
	return &Handlers{svc: svc}
}

type createBookingRequest struct {
	RoomID string `json:"roomId" validate:"required"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

type bookingResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	RoomID        string     `json:"roomId"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	Reason        string     `json:"cancellationReason,omitempty"`
	CorrelationID string     `json:"correlationId"`
	CreatedAt     time.Time  `json:"createdAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		UserID:        b.UserID,
		RoomID:        b.RoomID,
		Amount:        b.Amount,
		Status:        string(b.Status),
		Reason:        b.Reason,
		CorrelationID: b.CorrelationID,
		CreatedAt:     b.CreatedAt,
		ConfirmedAt:   b.ConfirmedAt,
		CancelledAt:   b.CancelledAt,
	}
}

func (h *Handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	userID := reqctx.UserID(r.Context())
	if userID == "" {
		httpx.FailErr(w, r, apperr.NewUnauthorized("missing X-User-Id header"))
		return
	}

	var req createBookingRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid json body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.FailErr(w, r, err)
		return
	}

	b, err := h.svc.Create(r.Context(), service.CreateInput{
		UserID: userID,
		RoomID: req.RoomID,
		Amount: req.Amount,
	})
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusCreated, toBookingResponse(b))
}

func (h *Handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	userID := reqctx.UserID(r.Context())
	if userID == "" {
		httpx.FailErr(w, r, apperr.NewUnauthorized("missing X-User-Id header"))
		return
	}

	b, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), userID, httpx.HasRole(r, "admin"))
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, toBookingResponse(b))
}
