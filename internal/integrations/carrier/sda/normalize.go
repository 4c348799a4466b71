package sda

import (
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
)

var layouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04", "02/01/2006 15:04:05", "02/01/2006 15:04"}

// Normalizer parses the single "data" field in loc. Code priority: status, phase.
func Normalizer(loc *time.Location) carrier.Normalizer {
	return func(p carrier.RawPayload) ([]models.Event, error) {
		r, ok := p.(*Payload)
		if !ok {
			return nil, carrier.UnexpectedPayload(carrier.SDA, p)
		}

		events := make([]models.Event, 0, len(r.Shipment.Tracking))
		for _, t := range r.Shipment.Tracking {
			e := models.Event{
				Code:        carrier.FirstNonEmpty(t.Status, t.Phase),
				Description: carrier.FirstNonEmpty(t.StatusDescription),
				Location:    carrier.FirstNonEmpty(t.OfficeDescription),
			}
			ts, ok := carrier.ParseFirst(t.Data, loc, layouts...)
			events = append(events, carrier.Stamp(e, ts, ok, t.Data, ""))
		}
		models.SortEventsDesc(events)
		return events, nil
	}
}
