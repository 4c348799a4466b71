package dhl

import (
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
)

// Normalizer parses Date (YYYY-MM-DD) and Time (HH:MM:SS) in loc.
// DHL lists checkpoints oldest first.
func Normalizer(loc *time.Location) carrier.Normalizer {
	return func(p carrier.RawPayload) ([]models.Event, error) {
		r, ok := p.(*Response)
		if !ok {
			return nil, carrier.UnexpectedPayload(carrier.DHL, p)
		}

		var events []models.Event
		for _, awb := range r.AWBInfo {
			for _, se := range awb.Events {
				e := models.Event{
					Code:        carrier.FirstNonEmpty(se.EventCode),
					Description: carrier.FirstNonEmpty(se.Description),
					Location:    carrier.FirstNonEmpty(se.ServiceArea, se.ServiceAreaC),
				}
				ts, ok := carrier.ParseFirst(se.Date+" "+se.Time, loc, "2006-01-02 15:04:05", "2006-01-02 15:04")
				events = append(events, carrier.Stamp(e, ts, ok, se.Date, se.Time))
			}
		}
		models.SortEventsDesc(events)
		return events, nil
	}
}
