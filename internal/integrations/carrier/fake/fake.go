package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
)

// Client simulates a carrier that has no reachable endpoint. The outcome is
// deterministic per (carrier, tracking number): one shipment in five is
// reported delivered.
type Client struct {
	code carrier.Code
	now  func() time.Time
}

func New(code carrier.Code, now func() time.Time) *Client {
	if now == nil {
		now = time.Now
	}
	return &Client{code: code, now: now}
}

type Payload struct {
	Code   carrier.Code
	Events []models.Event
}

func (p *Payload) Carrier() carrier.Code { return p.Code }

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, carrier.Transient(c.code, err)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(c.code))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	now := c.now().Truncate(time.Minute)
	events := []models.Event{
		{Timestamp: now.Add(-48 * time.Hour), Code: "PICKED_UP", Description: "Spedizione ritirata", Location: "Hub di partenza"},
		{Timestamp: now.Add(-24 * time.Hour), Code: "IN_TRANSIT", Description: "In transito", Location: "Centro di smistamento"},
	}
	if v%5 == 0 {
		events = append(events, models.Event{Timestamp: now, Code: "DELIVERED", Description: "Consegnata", Location: "Destinatario"})
	}
	return &Payload{Code: c.code, Events: events}, nil
}

// Normalize returns a sorted copy of the simulated events.
func Normalize(p carrier.RawPayload) ([]models.Event, error) {
	fp, ok := p.(*Payload)
	if !ok {
		return nil, carrier.UnexpectedPayload(carrier.Code("FAKE"), p)
	}
	events := make([]models.Event, len(fp.Events))
	copy(events, fp.Events)
	models.SortEventsDesc(events)
	return events, nil
}
