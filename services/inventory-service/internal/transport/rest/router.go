package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/httpx"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/metrics"
)

type RouterDeps struct {
	Handlers    *Handlers
	DeadLetters *deadletter.Handler
}

func NewRouter(deps RouterDeps) http.Handler {
	if deps.Handlers == nil {
		panic("rest: nil handlers")
	}

	r := chi.NewRouter()
	r.Use(httpx.RequestID)
	r.Use(httpx.HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(httpx.SecurityHeaders)
	r.Use(httpx.Identity)

	r.Get("/health", httpx.Health("inventory-service"))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/inventory", deps.Handlers.upsertItem)
		api.Get("/inventory", deps.Handlers.listItems)
		api.Post("/inventory/check-availability", deps.Handlers.checkAvailability)
		api.Post("/inventory/reserve", deps.Handlers.reserve)
		api.Post("/inventory/release", deps.Handlers.release)
		api.Get("/inventory/reservations/{bookingId}", deps.Handlers.getReservation)
		api.Get("/inventory/{itemId}", deps.Handlers.getItem)
		if deps.DeadLetters != nil {
			deps.DeadLetters.Mount(api)
		}
	})
	return r
}
