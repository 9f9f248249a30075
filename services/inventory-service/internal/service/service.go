package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/logger"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/reqctx"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/inventory-service/internal/domain"
)

// AvailabilityCache is the read accelerator in front of the item table.
// Implementations must treat every error as a miss.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, itemID string) (int, error)
	SetAvailability(ctx context.Context, itemID string, available int) error
	Invalidate(ctx context.Context, itemID string) error
}

// InventoryService owns stock and reservations. The repository serializes
// all quantity mutations; this layer adds caching, validation mapping and
// the consumer-facing handlers.
type InventoryService struct {
	repo  domain.Repository
	cache AvailabilityCache
	lg    zerolog.Logger
}

func New(repo domain.Repository, cache AvailabilityCache, lg zerolog.Logger) *InventoryService {
	return &InventoryService{repo: repo, cache: cache, lg: lg.With().Str("component", "inventory_service").Logger()}
}

type UpsertItemInput struct {
	ItemID string
	Name   string
	Total  int
}

// UpsertItem creates an item or adjusts its total. Available is recomputed
// so that available + reserved = total keeps holding.
func (s *InventoryService) UpsertItem(ctx context.Context, in UpsertItemInput) (*domain.Item, error) {
	item, err := s.repo.UpsertItem(ctx, in.ItemID, in.Name, in.Total)
	if errors.Is(err, domain.ErrTotalBelowReserved) {
		return nil, apperr.NewBusinessRule("total cannot drop below reserved quantity")
	}
	if err != nil {
		return nil, apperr.NewInternal("upsert item", err)
	}
	s.invalidate(ctx, in.ItemID)

	lg := logger.WithCtx(ctx)
	lg.Info().
		Str("item_id", item.ItemID).
		Int("total", item.Total).
		Int("available", item.Available).
		Msg("inventory item upserted")
	return item, nil
}

func (s *InventoryService) ListItems(ctx context.Context) ([]*domain.Item, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, apperr.NewInternal("list items", err)
	}
	return items, nil
}

func (s *InventoryService) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return nil, apperr.NewNotFound("inventory item not found")
	}
	if err != nil {
		return nil, apperr.NewInternal("get item", err)
	}
	return item, nil
}

func (s *InventoryService) GetReservation(ctx context.Context, bookingID string) (*domain.Reservation, error) {
	res, err := s.repo.GetReservation(ctx, bookingID)
	if errors.Is(err, domain.ErrReservationNotFound) {
		return nil, apperr.NewNotFound("reservation not found")
	}
	if err != nil {
		return nil, apperr.NewInternal("get reservation", err)
	}
	return res, nil
}

// CheckAvailability answers whether a quantity could be reserved right now.
// The answer is advisory: only Reserve decides, under the row lock. Unknown
// items report not available rather than an error.
func (s *InventoryService) CheckAvailability(ctx context.Context, itemID string, quantity int) (bool, error) {
	if avail, err := s.cache.GetAvailability(ctx, itemID); err == nil {
		return avail >= quantity, nil
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		lg := logger.WithCtx(ctx)
		lg.Warn().Err(err).Str("item_id", itemID).Msg("availability cache read failed")
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.NewInternal("check availability", err)
	}

	if err := s.cache.SetAvailability(ctx, itemID, item.Available); err != nil {
		lg := logger.WithCtx(ctx)
		lg.Warn().Err(err).Str("item_id", itemID).Msg("availability cache write failed")
	}
	return item.Available >= quantity, nil
}

type ReserveInput struct {
	BookingID string
	ItemID    string
	Quantity  int
	Amount    int64
}

// Reserve is the operator entry point to the reservation engine. It shares
// the consumer path's semantics: idempotent on bookingId, business
// rejections commit their failure event.
func (s *InventoryService) Reserve(ctx context.Context, in ReserveInput) (*domain.ReserveResult, error) {
	correlationID := reqctx.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return s.reserve(ctx, domain.ReserveCommand{
		BookingID:     in.BookingID,
		ItemID:        in.ItemID,
		Quantity:      in.Quantity,
		Amount:        in.Amount,
		CorrelationID: correlationID,
	})
}

func (s *InventoryService) reserve(ctx context.Context, cmd domain.ReserveCommand) (*domain.ReserveResult, error) {
	result, err := s.repo.Reserve(ctx, cmd)
	if err != nil {
		return nil, apperr.NewTransient("reserve stock", err)
	}

	lg := logger.WithCtx(ctx).With().
		Str("booking_id", cmd.BookingID).
		Str("item_id", cmd.ItemID).
		Logger()
	switch {
	case result.Rejected:
		lg.Info().Str("reason", result.Reason).Msg("reservation rejected")
	case result.Existing:
		lg.Debug().Str("reservation_id", result.Reservation.ID).Msg("reservation already exists")
	default:
		s.invalidate(ctx, cmd.ItemID)
		lg.Info().
			Str("reservation_id", result.Reservation.ID).
			Int("quantity", cmd.Quantity).
			Time("expires_at", result.Reservation.ExpiresAt).
			Msg("stock reserved")
	}
	return result, nil
}

// Release returns a booking's held stock. Missing or already-terminal
// reservations are a no-op so the operation can be repeated freely.
func (s *InventoryService) Release(ctx context.Context, bookingID, reason string) (bool, error) {
	if reason == "" {
		reason = "Released by operator"
	}
	return s.release(ctx, bookingID, reason)
}

func (s *InventoryService) release(ctx context.Context, bookingID, reason string) (bool, error) {
	applied, err := s.repo.Release(ctx, bookingID, reason)
	if err != nil {
		return false, apperr.NewTransient("release stock", err)
	}
	if !applied {
		return false, nil
	}

	if res, err := s.repo.GetReservation(ctx, bookingID); err == nil {
		s.invalidate(ctx, res.ItemID)
	}
	lg := logger.WithCtx(ctx)
	lg.Info().
		Str("booking_id", bookingID).
		Str("reason", reason).
		Msg("reservation released")
	return true, nil
}

// invalidate drops the cached availability after a mutation. Cache failures
// never fail the operation.
func (s *InventoryService) invalidate(ctx context.Context, itemID string) {
	if err := s.cache.Invalidate(ctx, itemID); err != nil {
		lg := logger.WithCtx(ctx)
		lg.Warn().Err(err).Str("item_id", itemID).Msg("availability cache invalidation failed")
	}
}
