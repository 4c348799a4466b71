package pgstore

import (
	"context"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, shipment_id, event_time, code, description,
  location, raw_date, raw_time, created_at
FROM shipment_events
WHERE shipment_id = $1
ORDER BY event_time DESC NULLS LAST, id
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := []*models.ShipmentEvent{}
	for rows.Next() {
		var e models.ShipmentEvent
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &e.EventTime, &e.Code, &e.Description,
			&e.Location, &e.RawDate, &e.RawTime, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListTrackingCodeMappings returns every mapping row in ascending id order so
// later rows override earlier ones when loaded.
func (s *Storage) ListTrackingCodeMappings(ctx context.Context) ([]models.MappingEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, COALESCE(carrier, ''), code, display_name, COALESCE(color, '')
FROM tracking_code_mappings
ORDER BY id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select mappings")
	}
	defer rows.Close()

	var out []models.MappingEntry
	for rows.Next() {
		var m models.MappingEntry
		if err := rows.Scan(&m.ID, &m.Carrier, &m.Code, &m.DisplayName, &m.Color); err != nil {
			return nil, errors.Wrap(err, "scan mapping")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
