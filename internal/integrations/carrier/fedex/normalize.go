package fedex

import (
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
)

// Normalizer keeps the offset FedEx reports; timestamps without one are read in loc.
// Code priority: eventType, derivedStatusCode.
func Normalizer(loc *time.Location) carrier.Normalizer {
	return func(p carrier.RawPayload) ([]models.Event, error) {
		r, ok := p.(*Response)
		if !ok {
			return nil, carrier.UnexpectedPayload(carrier.FedEx, p)
		}

		var events []models.Event
		for _, ctr := range r.Output.CompleteTrackResults {
			for _, tr := range ctr.TrackResults {
				for _, se := range tr.ScanEvents {
					e := models.Event{
						Code:        carrier.FirstNonEmpty(se.EventType, se.DerivedStatusCode),
						Description: carrier.FirstNonEmpty(se.EventDescription, se.DerivedStatus),
						Location:    carrier.JoinLocation(se.ScanLocation.City, se.ScanLocation.StateOrProvinceCode, se.ScanLocation.CountryCode),
					}
					ts, ok := carrier.ParseFirst(se.Date, loc, time.RFC3339, "2006-01-02T15:04:05")
					events = append(events, carrier.Stamp(e, ts, ok, se.Date, ""))
				}
			}
		}
		models.SortEventsDesc(events)
		return events, nil
	}
}
