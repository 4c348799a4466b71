package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/storage/pgstore"
	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("shipment not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

type Repository interface {
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error)
}

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Colors maps a stored display name back to its configured color.
type Colors interface {
	ColorOf(carrierTag, displayName string) string
}

// View is the status of a shipment as shown to end users.
type View struct {
	ID             uint64     `json:"id"`
	Carrier        string     `json:"carrier"`
	TrackingNumber string     `json:"trackingNumber"`
	LastPosition   string     `json:"lastPosition"`
	Color          string     `json:"color"`
	Delivered      bool       `json:"delivered"`
	Label          string     `json:"label"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
	ShippedAt      time.Time  `json:"shippedAt"`
}

type Service struct {
	repo   Repository
	cache  Cache
	colors Colors
	ttl    time.Duration
}

func New(repo Repository, c Cache, colors Colors, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, colors: colors, ttl: ttl}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}

func (s *Service) GetShipment(ctx context.Context, id uint64) (*View, error) {
	if id == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "shipment id is required")
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, viewKey(id))
		if err != nil {
			slog.Warn("status view cache read failed", "shipment_id", id, "error", err.Error())
		}
		if ok {
			var v View
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	v, err := s.load(ctx, id, "")
	if err != nil {
		return nil, err
	}
	s.store(ctx, v)
	return v, nil
}

func (s *Service) ListEvents(ctx context.Context, id uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	if id == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "shipment id is required")
	}
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	if offset < 0 {
		offset = 0
	}
	events, err := s.repo.ListShipmentEvents(ctx, id, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list shipment events")
	}
	return events, nil
}

// ApplyStatusChanged refreshes the cached view after the worker persisted a
// new status. The color carried by the message wins over the local mapping.
func (s *Service) ApplyStatusChanged(ctx context.Context, msg messages.ShipmentStatusChanged) error {
	if msg.ShipmentID == 0 {
		return errors.Wrap(ErrInvalidArgument, "shipment_id is required")
	}
	if !s.cacheEnabled() {
		return nil
	}
	if err := s.cache.Del(ctx, viewKey(msg.ShipmentID)); err != nil {
		return errors.Wrap(err, "invalidate status view")
	}

	v, err := s.load(ctx, msg.ShipmentID, msg.Color)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	s.store(ctx, v)
	return nil
}

func (s *Service) load(ctx context.Context, id uint64, color string) (*View, error) {
	sh, err := s.repo.GetShipment(ctx, id)
	if err != nil {
		if errors.Is(err, pgstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get shipment")
	}

	v := &View{
		ID:             sh.ID,
		Carrier:        sh.Carrier,
		TrackingNumber: sh.TrackingNumber,
		Delivered:      sh.FinalPosition == models.Delivered,
		Label:          sh.FinalPosition.Label(),
		UpdatedAt:      sh.LastPositionUpdatedAt,
		ShippedAt:      sh.ShippedAt,
		Color:          models.DefaultColor,
	}
	if sh.LastPosition != nil {
		v.LastPosition = *sh.LastPosition
	}
	switch {
	case color != "":
		v.Color = color
	case v.LastPosition != "" && s.colors != nil:
		v.Color = s.colors.ColorOf(sh.Carrier, v.LastPosition)
	}
	return v, nil
}

func (s *Service) store(ctx context.Context, v *View) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, viewKey(v.ID), b, s.ttl); err != nil {
		slog.Warn("status view cache write failed", "shipment_id", v.ID, "error", err.Error())
	}
}

func viewKey(id uint64) string {
	return fmt.Sprintf("shipment:%d:view", id)
}
