package models

import "time"

// DeliveryState is stored as final_position: 0 in transit, 1 delivered.
type DeliveryState int16

const (
	InTransit DeliveryState = 0
	Delivered DeliveryState = 1
)

func (s DeliveryState) String() string {
	if s == Delivered {
		return "DELIVERED"
	}
	return "IN_TRANSIT"
}

// Label is the operator-facing text used by the read API.
func (s DeliveryState) Label() string {
	if s == Delivered {
		return "Consegnato"
	}
	return "In transito"
}

type Shipment struct {
	ID                    uint64
	Carrier               string
	TrackingNumber        string
	LastPosition          *string
	LastPositionUpdatedAt *time.Time
	FinalPosition         DeliveryState
	ShippedAt             time.Time
}

// StatusUpdate is the single atomic write the orchestrator performs.
type StatusUpdate struct {
	ShipmentID    uint64
	LastPosition  string
	FinalPosition DeliveryState
	UpdatedAt     time.Time
	Events        []Event
}
