package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/clock"
	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/metrics"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/storage/pgstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

type Repository interface {
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	ApplyStatusUpdate(ctx context.Context, upd models.StatusUpdate) error
}

type Resolver interface {
	Resolve(carrierTag, code, fallbackDescription string) (string, string)
}

type Classifier interface {
	Classify(displayStatus string) models.DeliveryState
}

// Pacer spaces calls to the same carrier. Wait blocks until a call may start.
type Pacer interface {
	Wait(ctx context.Context, code carrier.Code) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Outcome is the success half of UpdateTracking's result.
type Outcome struct {
	ShipmentID     uint64               `json:"shipmentId"`
	Carrier        string               `json:"carrier"`
	TrackingNumber string               `json:"trackingNumber"`
	LastPosition   string               `json:"lastPosition"`
	Color          string               `json:"color"`
	FinalPosition  models.DeliveryState `json:"finalPosition"`
	Changed        bool                 `json:"changed"`
	EventCode      string               `json:"eventCode,omitempty"`
	EventAt        *time.Time           `json:"eventAt,omitempty"`
	Events         int                  `json:"events"`
}

// Updater refreshes one shipment from its carrier. Concurrent calls for the
// same shipment id share a single execution.
type Updater struct {
	repo       Repository
	registry   *carrier.Registry
	mappings   Resolver
	classifier Classifier

	producer Producer
	topic    string
	pacer    Pacer

	clock clock.Clock
	group singleflight.Group
}

func New(repo Repository, registry *carrier.Registry, mappings Resolver, classifier Classifier) *Updater {
	return &Updater{
		repo:       repo,
		registry:   registry,
		mappings:   mappings,
		classifier: classifier,
		clock:      clock.Real{},
	}
}

// WithProducer enables status_changed notifications on topic.
func (u *Updater) WithProducer(p Producer, topic string) *Updater {
	u.producer = p
	u.topic = topic
	return u
}

// WithPacer makes every adapter call, from the sweep or on demand, wait for
// the carrier's minimum spacing.
func (u *Updater) WithPacer(p Pacer) *Updater {
	u.pacer = p
	return u
}

func (u *Updater) WithClock(c clock.Clock) *Updater {
	if c != nil {
		u.clock = c
	}
	return u
}

// UpdateTracking coalesces concurrent calls for one shipment. The shared
// update does not inherit any caller's cancellation; a caller whose ctx ends
// first returns ctx.Err() and leaves the update to finish for the others.
func (u *Updater) UpdateTracking(ctx context.Context, shipmentID uint64) (Outcome, error) {
	ch := u.group.DoChan(strconv.FormatUint(shipmentID, 10), func() (any, error) {
		return u.update(context.WithoutCancel(ctx), shipmentID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		metrics.TrackingUpdates.WithLabelValues("canceled").Inc()
		return Outcome{}, ctx.Err()
	case res = <-ch:
	}

	v, err := res.Val, res.Err
	if err != nil {
		metrics.TrackingUpdates.WithLabelValues(resultLabel(err)).Inc()
		return Outcome{}, err
	}
	out := v.(Outcome)
	if out.Changed {
		metrics.TrackingUpdates.WithLabelValues("updated").Inc()
	} else {
		metrics.TrackingUpdates.WithLabelValues("unchanged").Inc()
	}
	return out, nil
}

func resultLabel(err error) string {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Kind.String()
	}
	return "unknown"
}

func (u *Updater) update(ctx context.Context, shipmentID uint64) (Outcome, error) {
	sh, err := u.repo.GetShipment(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, pgstore.ErrNotFound) {
			return Outcome{}, &UpdateError{Kind: KindShipmentNotFound, ShipmentID: shipmentID, Cause: err}
		}
		return Outcome{}, &UpdateError{Kind: KindPersistence, ShipmentID: shipmentID, Cause: errors.Wrap(err, "get shipment")}
	}

	fail := func(kind ErrorKind, cause error) (Outcome, error) {
		return Outcome{}, &UpdateError{
			Kind:           kind,
			ShipmentID:     sh.ID,
			Carrier:        sh.Carrier,
			TrackingNumber: sh.TrackingNumber,
			Cause:          cause,
		}
	}

	code, ok := carrier.ParseCode(sh.Carrier)
	if !ok {
		return fail(KindUnsupportedCarrier, errors.Errorf("unknown carrier tag %q", sh.Carrier))
	}
	provider, ok := u.registry.Lookup(code)
	if !ok {
		return fail(KindUnsupportedCarrier, errors.Errorf("no adapter configured for %s", code))
	}

	if u.pacer != nil {
		if err := u.pacer.Wait(ctx, code); err != nil {
			return fail(KindAdapter, carrier.Transient(code, errors.Wrap(err, "wait for carrier slot")))
		}
	}
	payload, err := provider.Adapter.Track(ctx, sh.TrackingNumber)
	if err != nil {
		return fail(KindAdapter, err)
	}
	events, err := provider.Normalize(payload)
	if err != nil {
		return fail(KindAdapter, err)
	}
	if len(events) == 0 {
		return fail(KindNoEvents, errors.New("carrier returned no events"))
	}

	latest := events[0]
	name, color := u.mappings.Resolve(string(code), latest.Code, latest.Description)
	if name == "" {
		return fail(KindNoEvents, errors.New("latest event has neither code nor description"))
	}
	state := u.classifier.Classify(name)

	out := Outcome{
		ShipmentID:     sh.ID,
		Carrier:        string(code),
		TrackingNumber: sh.TrackingNumber,
		LastPosition:   name,
		Color:          color,
		FinalPosition:  state,
		EventCode:      latest.Code,
		Events:         len(events),
	}
	if !latest.Degraded {
		ts := latest.Timestamp
		out.EventAt = &ts
	}

	if sh.LastPosition != nil && *sh.LastPosition == name && sh.FinalPosition == state {
		return out, nil
	}

	now := u.clock.Now()
	if err := u.repo.ApplyStatusUpdate(ctx, models.StatusUpdate{
		ShipmentID:    sh.ID,
		LastPosition:  name,
		FinalPosition: state,
		UpdatedAt:     now,
		Events:        events,
	}); err != nil {
		if errors.Is(err, pgstore.ErrNotFound) {
			return fail(KindShipmentNotFound, err)
		}
		return fail(KindPersistence, errors.Wrap(err, "apply status update"))
	}
	out.Changed = true

	slog.Info("shipment status updated",
		"shipment_id", sh.ID, "carrier", out.Carrier, "last_position", name, "final_position", state.String())

	u.publish(ctx, out, now)
	return out, nil
}

// publish is best effort: the update is already committed.
func (u *Updater) publish(ctx context.Context, out Outcome, now time.Time) {
	if u.producer == nil || u.topic == "" {
		return
	}
	b, err := json.Marshal(messages.ShipmentStatusChanged{
		MessageID:      uuid.NewString(),
		ShipmentID:     out.ShipmentID,
		Carrier:        out.Carrier,
		TrackingNumber: out.TrackingNumber,
		LastPosition:   out.LastPosition,
		Color:          out.Color,
		FinalPosition:  int16(out.FinalPosition),
		Delivered:      out.FinalPosition == models.Delivered,
		EventCode:      out.EventCode,
		EventAt:        out.EventAt,
		UpdatedAt:      now,
	})
	if err != nil {
		slog.Error("marshal status changed", "shipment_id", out.ShipmentID, "error", err.Error())
		return
	}
	key := []byte(strconv.FormatUint(out.ShipmentID, 10))
	if err := u.producer.Publish(ctx, u.topic, key, b); err != nil {
		slog.Warn("publish status changed", "shipment_id", out.ShipmentID, "error", err.Error())
	}
}
