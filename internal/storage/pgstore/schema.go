package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  carrier TEXT NOT NULL,
  tracking_number TEXT NOT NULL,
  last_position TEXT NULL,
  last_position_updated_at TIMESTAMPTZ NULL,
  final_position SMALLINT NOT NULL DEFAULT 0,
  shipped_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_in_transit ON shipments(shipped_at DESC) WHERE final_position = 0`,
		`
CREATE TABLE IF NOT EXISTS shipment_events (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  event_time TIMESTAMPTZ NULL,
  code TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  raw_date TEXT NOT NULL DEFAULT '',
  raw_time TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_events_shipment_time ON shipment_events(shipment_id, event_time DESC NULLS LAST)`,
		// Degraded events have no event_time; they still deduplicate on their raw strings.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipment_events_dedup ON shipment_events(shipment_id, event_time, code, description, location, raw_date, raw_time) NULLS NOT DISTINCT`,
		`
CREATE TABLE IF NOT EXISTS tracking_code_mappings (
  id BIGSERIAL PRIMARY KEY,
  carrier TEXT NULL,
  code TEXT NOT NULL,
  display_name TEXT NOT NULL,
  color TEXT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
