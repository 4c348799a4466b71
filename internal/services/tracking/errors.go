package tracking

import (
	"fmt"
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
)

type ErrorKind int

const (
	KindShipmentNotFound ErrorKind = iota + 1
	KindUnsupportedCarrier
	KindAdapter
	KindNoEvents
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindShipmentNotFound:
		return "shipment_not_found"
	case KindUnsupportedCarrier:
		return "unsupported_carrier"
	case KindAdapter:
		return "adapter"
	case KindNoEvents:
		return "no_events"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// UpdateError is the failure half of UpdateTracking's result. The shipment
// was not modified when it is returned.
type UpdateError struct {
	Kind           ErrorKind
	ShipmentID     uint64
	Carrier        string
	TrackingNumber string
	Cause          error
}

func (e *UpdateError) Error() string {
	msg := fmt.Sprintf("update shipment %d", e.ShipmentID)
	if e.Carrier != "" {
		msg += fmt.Sprintf(" (%s %s)", e.Carrier, e.TrackingNumber)
	}
	msg += ": " + e.Kind.String()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UpdateError) Unwrap() error { return e.Cause }

// Terminal reports failures that no retry can fix.
func (e *UpdateError) Terminal() bool {
	return e.Kind == KindShipmentNotFound || e.Kind == KindUnsupportedCarrier
}

// CarrierError returns the adapter error behind a KindAdapter failure.
func (e *UpdateError) CarrierError() (*carrier.Error, bool) {
	if e.Kind != KindAdapter {
		return nil, false
	}
	return carrier.AsError(e.Cause)
}

// RateLimited reports whether the carrier asked to slow down, with its hint.
func (e *UpdateError) RateLimited() (time.Duration, bool) {
	ce, ok := e.CarrierError()
	if !ok || ce.Kind != carrier.KindRateLimited {
		return 0, false
	}
	return ce.RetryAfter, true
}
