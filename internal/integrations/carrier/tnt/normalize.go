package tnt

import (
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
)

var (
	dateLayouts = []string{"20060102", "2006-01-02"}
	timeLayouts = []string{"1504", "15:04", "15:04:05"}
	layouts     = combine(dateLayouts, timeLayouts)
)

func combine(dates, times []string) []string {
	out := make([]string, 0, len(dates)*len(times))
	for _, d := range dates {
		for _, t := range times {
			out = append(out, d+" "+t)
		}
	}
	return out
}

// Normalizer reads StatusData entries and falls back to Activity when a
// consignment has none.
func Normalizer(loc *time.Location) carrier.Normalizer {
	return func(p carrier.RawPayload) ([]models.Event, error) {
		r, ok := p.(*Response)
		if !ok {
			return nil, carrier.UnexpectedPayload(carrier.TNT, p)
		}

		var events []models.Event
		for _, con := range r.Consignments {
			statuses := con.StatusData
			if len(statuses) == 0 {
				statuses = con.Activity
			}
			for _, s := range statuses {
				e := models.Event{
					Code:        carrier.FirstNonEmpty(s.StatusCode, s.Code),
					Description: carrier.FirstNonEmpty(s.StatusDescription, s.Description),
					Location:    carrier.FirstNonEmpty(s.DepotName, s.Depot),
				}
				date := carrier.FirstNonEmpty(s.LocalEventDate, s.Date)
				clock := carrier.FirstNonEmpty(s.LocalEventTime, s.Time)
				ts, ok := carrier.ParseFirst(date+" "+clock, loc, layouts...)
				events = append(events, carrier.Stamp(e, ts, ok, date, clock))
			}
		}
		models.SortEventsDesc(events)
		return events, nil
	}
}
