package brt

import (
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
)

var (
	dateLayouts = []string{"02.01.2006", "02/01/2006", "2006-01-02"}
	timeLayouts = []string{"15.04", "15:04", "15:04:05", "15.04.05"}
)

// Normalizer drops the empty placeholder events BRT pads lista_eventi with,
// and adds a delivery event from dati_consegna when no event reports it.
func Normalizer(loc *time.Location) carrier.Normalizer {
	return func(p carrier.RawPayload) ([]models.Event, error) {
		r, ok := p.(*Response)
		if !ok {
			return nil, carrier.UnexpectedPayload(carrier.BRT, p)
		}

		events := make([]models.Event, 0, len(r.Events))
		for _, item := range r.Events {
			ev := item.Event
			if isPlaceholder(ev) {
				continue
			}
			e := models.Event{
				Code:        carrier.FirstNonEmpty(ev.ID),
				Description: carrier.FirstNonEmpty(ev.Description),
				Location:    carrier.FirstNonEmpty(ev.Branch),
			}
			ts, ok := parseTime(ev.Date, ev.Time, loc)
			events = append(events, carrier.Stamp(e, ts, ok, ev.Date, ev.Time))
		}

		if d := r.Bolla.DatiConsegna; strings.TrimSpace(d.Date) != "" {
			ts, ok := parseTime(d.Date, d.Time, loc)
			if !ok || !hasEventAt(events, ts) {
				desc := "Consegnata"
				if rcpt := strings.TrimSpace(d.Recipient); rcpt != "" {
					desc = "Consegnata a " + rcpt
				}
				events = append(events, carrier.Stamp(models.Event{Description: desc}, ts, ok, d.Date, d.Time))
			}
		}

		models.SortEventsDesc(events)
		return events, nil
	}
}

func isPlaceholder(ev Event) bool {
	return strings.TrimSpace(ev.Date) == "" && strings.TrimSpace(ev.Time) == "" && strings.TrimSpace(ev.ID) == ""
}

func hasEventAt(events []models.Event, ts time.Time) bool {
	for _, e := range events {
		if !e.Degraded && e.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

func parseTime(date, clock string, loc *time.Location) (time.Time, bool) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if clock == "" {
		return carrier.ParseFirst(date, loc, dateLayouts...)
	}
	layouts := make([]string, 0, len(dateLayouts)*len(timeLayouts))
	for _, d := range dateLayouts {
		for _, t := range timeLayouts {
			layouts = append(layouts, d+" "+t)
		}
	}
	return carrier.ParseFirst(date+" "+clock, loc, layouts...)
}
