package mappings

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/metrics"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/pkg/errors"
)

type Loader interface {
	ListTrackingCodeMappings(ctx context.Context) ([]models.MappingEntry, error)
}

type Resolved struct {
	DisplayName string
	Color       string
}

// snapshot is never mutated after publication.
type snapshot struct {
	byCarrier map[string]map[string]Resolved
	colors    map[string]map[string]string
	size      int
}

// Store resolves carrier codes to operator-defined display names and colors.
// Readers load the current snapshot without locking; Reload publishes a new one.
type Store struct {
	loader Loader
	snap   atomic.Pointer[snapshot]
}

func New(loader Loader) *Store {
	s := &Store{loader: loader}
	s.snap.Store(&snapshot{
		byCarrier: map[string]map[string]Resolved{},
		colors:    map[string]map[string]string{},
	})
	return s
}

func (s *Store) Reload(ctx context.Context) error {
	entries, err := s.loader.ListTrackingCodeMappings(ctx)
	if err != nil {
		metrics.MappingReloads.WithLabelValues("error").Inc()
		return errors.Wrap(err, "list tracking code mappings")
	}
	next := build(entries)
	s.snap.Store(next)

	metrics.MappingReloads.WithLabelValues("ok").Inc()
	metrics.MappingEntries.Set(float64(next.size))
	slog.Info("mapping store reloaded", "entries", next.size, "carriers", len(next.byCarrier))
	return nil
}

func build(entries []models.MappingEntry) *snapshot {
	sorted := make([]models.MappingEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := &snapshot{
		byCarrier: make(map[string]map[string]Resolved),
		colors:    make(map[string]map[string]string),
	}
	for _, e := range sorted {
		c := carrierKey(e.Carrier)
		if c == "" || e.Code == "" {
			continue
		}
		color := strings.TrimSpace(e.Color)
		if color == "" {
			color = models.DefaultColor
		}
		m, ok := out.byCarrier[c]
		if !ok {
			m = make(map[string]Resolved)
			out.byCarrier[c] = m
		}
		m[e.Code] = Resolved{DisplayName: e.DisplayName, Color: color}

		if e.DisplayName != "" {
			byName, ok := out.colors[c]
			if !ok {
				byName = make(map[string]string)
				out.colors[c] = byName
			}
			byName[e.DisplayName] = color
		}
	}
	for _, m := range out.byCarrier {
		out.size += len(m)
	}
	return out
}

// Resolve maps (carrier, code) to a display name and color. An exact entry
// whose display name is the code itself is a placeholder: the description is
// tried as a key, and when that misses too the neutral default is returned.
func (s *Store) Resolve(carrierTag, code, fallbackDescription string) (string, string) {
	snap := s.snap.Load()
	byCode := snap.byCarrier[carrierKey(carrierTag)]

	exact, found := byCode[code]
	if found && exact.DisplayName != "" && exact.DisplayName != code {
		return exact.DisplayName, exact.Color
	}

	desc := strings.TrimSpace(fallbackDescription)
	if desc != "" && desc != code {
		if r, ok := byCode[desc]; ok && r.DisplayName != "" {
			return r.DisplayName, r.Color
		}
	}

	name := desc
	if name == "" {
		name = code
	}
	return name, models.DefaultColor
}

// ColorOf returns the color configured for an already resolved display name.
func (s *Store) ColorOf(carrierTag, displayName string) string {
	if c, ok := s.snap.Load().colors[carrierKey(carrierTag)][displayName]; ok {
		return c
	}
	return models.DefaultColor
}

// carrierKey folds aliases so FED and FEDEX rows share one map.
func carrierKey(tag string) string {
	if c, ok := carrier.ParseCode(tag); ok {
		return string(c)
	}
	return strings.ToUpper(strings.TrimSpace(tag))
}

func (s *Store) Len() int { return s.snap.Load().size }

// Entries returns a copy of the current snapshot, for debugging.
func (s *Store) Entries() map[string]map[string]Resolved {
	snap := s.snap.Load()
	out := make(map[string]map[string]Resolved, len(snap.byCarrier))
	for c, m := range snap.byCarrier {
		cp := make(map[string]Resolved, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[c] = cp
	}
	return out
}
