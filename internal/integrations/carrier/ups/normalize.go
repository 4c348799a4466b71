package ups

import (
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
)

// Normalizer parses Date (YYYYMMDD) and Time (HHMMSS) in loc.
// Code priority: StatusCode/Code, StatusType/Code.
func Normalizer(loc *time.Location) carrier.Normalizer {
	return func(p carrier.RawPayload) ([]models.Event, error) {
		r, ok := p.(*Response)
		if !ok {
			return nil, carrier.UnexpectedPayload(carrier.UPS, p)
		}

		var events []models.Event
		for _, pkg := range r.Shipment.Packages {
			for _, a := range pkg.Activities {
				e := models.Event{
					Code:        carrier.FirstNonEmpty(a.Status.Code.Code, a.Status.Type.Code),
					Description: carrier.FirstNonEmpty(a.Status.Code.Description, a.Status.Type.Description),
					Location:    carrier.JoinLocation(a.Address.City, a.Address.StateProvinceCode, a.Address.CountryCode),
				}
				ts, ok := parseTime(a.Date, a.Time, loc)
				events = append(events, carrier.Stamp(e, ts, ok, a.Date, a.Time))
			}
		}
		models.SortEventsDesc(events)
		return events, nil
	}
}

func parseTime(date, clock string, loc *time.Location) (time.Time, bool) {
	if clock == "" {
		return carrier.ParseFirst(date, loc, "20060102")
	}
	return carrier.ParseFirst(date+clock, loc, "20060102150405", "200601021504")
}
