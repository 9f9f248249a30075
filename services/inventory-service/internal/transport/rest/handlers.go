package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/httpx"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/validate"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/inventory-service/internal/domain"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/inventory-service/internal/service"
)

type Handlers struct {
	svc *service.InventoryService
}

func NewHandlers(svc *service.InventoryService) *Handlers {
	return &Handlers{svc: svc}
}

type itemResponse struct {
	ItemID    string    `json:"itemId"`
	Name      string    `json:"name,omitempty"`
	Total     int       `json:"total"`
	Available int       `json:"available"`
	Reserved  int       `json:"reserved"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toItemResponse(it *domain.Item) itemResponse {
	return itemResponse{
		ItemID:    it.ItemID,
		Name:      it.Name,
		Total:     it.Total,
		Available: it.Available,
		Reserved:  it.Reserved,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

type reservationResponse struct {
	ID            string     `json:"id"`
	BookingID     string     `json:"bookingId"`
	ItemID        string     `json:"itemId"`
	Quantity      int        `json:"quantity"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	CorrelationID string     `json:"correlationId"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
	ReleasedAt    *time.Time `json:"releasedAt,omitempty"`
	ReleaseReason string     `json:"releaseReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toReservationResponse(res *domain.Reservation) reservationResponse {
	return reservationResponse{
		ID:            res.ID,
		BookingID:     res.BookingID,
		ItemID:        res.ItemID,
		Quantity:      res.Quantity,
		Amount:        res.Amount,
		Status:        string(res.Status),
		CorrelationID: res.CorrelationID,
		ExpiresAt:     res.ExpiresAt,
		ConfirmedAt:   res.ConfirmedAt,
		ReleasedAt:    res.ReleasedAt,
		ReleaseReason: res.ReleaseReason,
		CreatedAt:     res.CreatedAt,
	}
}

// requireOperator gates the endpoints that mutate stock by hand. The
// upstream gateway vouches for the roles header.
func requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if !httpx.HasRole(r, "admin") {
		httpx.FailErr(w, r, apperr.NewForbidden("operator role required"))
		return false
	}
	return true
}

type upsertItemRequest struct {
	ItemID string `json:"itemId" validate:"required"`
	Name   string `json:"name"`
	Total  int    `json:"total" validate:"gte=0"`
}

func (h *Handlers) upsertItem(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var req upsertItemRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid json body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.FailErr(w, r, err)
		return
	}

	item, err := h.svc.UpsertItem(r.Context(), service.UpsertItemInput{
		ItemID: req.ItemID,
		Name:   req.Name,
		Total:  req.Total,
	})
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, toItemResponse(item))
}

func (h *Handlers) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListItems(r.Context())
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	httpx.Data(w, r, http.StatusOK, out)
}

func (h *Handlers) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetItem(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, toItemResponse(item))
}

func (h *Handlers) getReservation(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	res, err := h.svc.GetReservation(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, toReservationResponse(res))
}

type checkAvailabilityRequest struct {
	ItemID   string `json:"itemId" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

func (h *Handlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	var req checkAvailabilityRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid json body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.FailErr(w, r, err)
		return
	}

	available, err := h.svc.CheckAvailability(r.Context(), req.ItemID, req.Quantity)
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, map[string]bool{"available": available})
}

type reserveRequest struct {
	BookingID string `json:"bookingId" validate:"required,uuid"`
	ItemID    string `json:"itemId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
}

func (h *Handlers) reserve(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var req reserveRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid json body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.FailErr(w, r, err)
		return
	}

	result, err := h.svc.Reserve(r.Context(), service.ReserveInput{
		BookingID: req.BookingID,
		ItemID:    req.ItemID,
		Quantity:  req.Quantity,
		Amount:    req.Amount,
	})
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	if result.Rejected {
		httpx.FailErr(w, r, apperr.NewBusinessRule(result.Reason))
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	httpx.Data(w, r, status, toReservationResponse(result.Reservation))
}

type releaseRequest struct {
	BookingID string `json:"bookingId" validate:"required,uuid"`
	Reason    string `json:"reason"`
}

func (h *Handlers) release(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var req releaseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid json body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.FailErr(w, r, err)
		return
	}

	released, err := h.svc.Release(r.Context(), req.BookingID, req.Reason)
	if err != nil {
		httpx.FailErr(w, r, err)
		return
	}
	httpx.Data(w, r, http.StatusOK, map[string]bool{"released": released})
}
