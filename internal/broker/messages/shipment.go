package messages

import "time"

// ShipmentStatusChanged is published after a shipment's status was persisted.
type ShipmentStatusChanged struct {
	MessageID      string     `json:"message_id"`
	ShipmentID     uint64     `json:"shipment_id"`
	Carrier        string     `json:"carrier"`
	TrackingNumber string     `json:"tracking_number"`
	LastPosition   string     `json:"last_position"`
	Color          string     `json:"color"`
	FinalPosition  int16      `json:"final_position"`
	Delivered      bool       `json:"delivered"`
	EventCode      string     `json:"event_code,omitempty"`
	EventAt        *time.Time `json:"event_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RefreshRequested asks the worker to update one shipment now.
type RefreshRequested struct {
	ShipmentID  uint64    `json:"shipment_id"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
	Source      string    `json:"source,omitempty"`
}
