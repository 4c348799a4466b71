package carrier

import (
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
)

// DefaultLocation is the wall clock carriers report local times in.
func DefaultLocation() *time.Location {
	if loc, err := time.LoadLocation("Europe/Rome"); err == nil {
		return loc
	}
	return time.FixedZone("CET", 3600)
}

// FirstNonEmpty returns the first value that is not blank after trimming.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// JoinLocation joins the non-empty parts with ", ".
func JoinLocation(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}

// ParseFirst tries each layout in order against value.
func ParseFirst(value string, loc *time.Location, layouts ...string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Stamp sets the timestamp of e, or marks it degraded and keeps the raw strings.
func Stamp(e models.Event, ts time.Time, ok bool, rawDate, rawTime string) models.Event {
	if ok {
		e.Timestamp = ts
		return e
	}
	e.Degraded = true
	e.RawDate = rawDate
	e.RawTime = rawTime
	return e
}
