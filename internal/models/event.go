package models

import (
	"sort"
	"time"
)

// Event is a normalized carrier tracking event.
// Degraded events carry the carrier's raw date/time strings and a zero Timestamp.
type Event struct {
	Timestamp   time.Time
	Code        string
	Description string
	Location    string

	Degraded bool
	RawDate  string
	RawTime  string
}

// SortEventsDesc orders events most recent first. Degraded events go last,
// ties keep the carrier order.
func SortEventsDesc(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Degraded != b.Degraded {
			return !a.Degraded
		}
		return a.Timestamp.After(b.Timestamp)
	})
}

// ShipmentEvent is a persisted row of the event history.
type ShipmentEvent struct {
	ID          uint64
	ShipmentID  uint64
	EventTime   *time.Time
	Code        string
	Description string
	Location    string
	RawDate     string
	RawTime     string
	CreatedAt   time.Time
}
