package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `id, carrier, tracking_number, last_position, last_position_updated_at, final_position, shipped_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	var fp int16
	if err := row.Scan(
		&sh.ID, &sh.Carrier, &sh.TrackingNumber, &sh.LastPosition,
		&sh.LastPositionUpdatedAt, &fp, &sh.ShippedAt,
	); err != nil {
		return nil, err
	}
	sh.FinalPosition = models.DeliveryState(fp)
	return &sh, nil
}

func (s *Storage) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

// ListInTransitShipments returns the most recently shipped in-transit
// shipments of the given carriers shipped at or after since.
func (s *Storage) ListInTransitShipments(ctx context.Context, carriers []string, since time.Time, limit int) ([]*models.Shipment, error) {
	if limit <= 0 {
		limit = 100
	}
	if len(carriers) == 0 {
		return []*models.Shipment{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE final_position = 0
  AND tracking_number <> ''
  AND upper(trim(carrier)) = ANY($1)
  AND shipped_at >= $2
ORDER BY shipped_at DESC, id DESC
LIMIT $3
`, carriers, since.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select in-transit shipments")
	}
	defer rows.Close()

	out := make([]*models.Shipment, 0, limit)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ApplyStatusUpdate writes the new status and appends the event history in
// one transaction. Nothing is written when the shipment does not exist.
func (s *Storage) ApplyStatusUpdate(ctx context.Context, upd models.StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE shipments
SET
  last_position = $2,
  final_position = $3,
  last_position_updated_at = $4
WHERE id = $1
`, upd.ShipmentID, upd.LastPosition, int16(upd.FinalPosition), upd.UpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if len(upd.Events) > 0 {
		batch := &pgx.Batch{}
		for _, e := range upd.Events {
			var eventTime *time.Time
			if !e.Degraded && !e.Timestamp.IsZero() {
				t := e.Timestamp.UTC()
				eventTime = &t
			}
			batch.Queue(`
INSERT INTO shipment_events (
  shipment_id, event_time, code, description, location, raw_date, raw_time
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT DO NOTHING
`, upd.ShipmentID, eventTime, e.Code, e.Description, e.Location, e.RawDate, e.RawTime)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert shipment events")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
