package dhl

import (
	"testing"
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_OrdersNewestFirst(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)

	r := &Response{AWBInfo: []AWBInfo{{Events: []ShipmentEvent{
		{Date: "2025-03-10", Time: "08:15:00", EventCode: "PU", ServiceArea: "MILAN-ITA"},
		{Date: "2025-03-11", Time: "17:40", EventCode: "OK", ServiceAreaC: "ROM"},
		{Date: "11/03/2025", Time: "18:00", EventCode: "XX"},
	}}}}

	events, err := Normalizer(rome)(r)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, "OK", events[0].Code)
	require.Equal(t, "ROM", events[0].Location)
	require.True(t, events[0].Timestamp.Equal(time.Date(2025, 3, 11, 17, 40, 0, 0, rome)))

	require.Equal(t, "PU", events[1].Code)
	require.Equal(t, "MILAN-ITA", events[1].Location)

	require.True(t, events[2].Degraded)
	require.Equal(t, "11/03/2025", events[2].RawDate)
	require.Equal(t, "18:00", events[2].RawTime)
}

type otherPayload struct{}

func (otherPayload) Carrier() carrier.Code { return carrier.UPS }

func TestNormalizer_WrongPayload(t *testing.T) {
	_, err := Normalizer(time.UTC)(otherPayload{})
	require.True(t, carrier.IsKind(err, carrier.KindMalformedResponse))
}
