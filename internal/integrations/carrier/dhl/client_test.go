package dhl

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/stretchr/testify/require"
)

const okResponse = `<?xml version="1.0" encoding="UTF-8"?>
<req:TrackingResponse xmlns:req="http://www.dhl.com">
  <Response><ServiceHeader><MessageTime>2025-03-10T10:00:00+01:00</MessageTime></ServiceHeader></Response>
  <AWBInfo>
    <AWBNumber>1234567890</AWBNumber>
    <Status><ActionStatus>success</ActionStatus></Status>
    <ShipmentInfo>
      <ShipmentEvent>
        <Date>2025-03-08</Date><Time>18:30:00</Time>
        <ServiceEvent><EventCode>PU</EventCode><Description>Shipment picked up</Description></ServiceEvent>
        <ServiceArea><ServiceAreaCode>FCO</ServiceAreaCode><Description>ROME - ITALY</Description></ServiceArea>
      </ShipmentEvent>
      <ShipmentEvent>
        <Date>2025-03-10</Date><Time>09:15:00</Time>
        <ServiceEvent><EventCode>OK</EventCode><Description>Delivered</Description></ServiceEvent>
        <Signatory>ROSSI</Signatory>
        <ServiceArea><ServiceAreaCode>MXP</ServiceAreaCode><Description>MILAN - ITALY</Description></ServiceArea>
      </ShipmentEvent>
      <ShipmentEvent>
        <Date>2025-03-09</Date><Time>07:00:00</Time>
        <ServiceEvent><EventCode>AF</EventCode><Description>Arrived at facility</Description></ServiceEvent>
        <ServiceArea><ServiceAreaCode>MXP</ServiceAreaCode></ServiceArea>
      </ShipmentEvent>
    </ShipmentInfo>
  </AWBInfo>
</req:TrackingResponse>`

func TestClient_Track_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		require.Contains(t, string(b), "<req:KnownTrackingRequest")
		require.Contains(t, string(b), "<SiteID>site</SiteID>")
		require.Contains(t, string(b), "<AWBNumber>1234567890</AWBNumber>")
		require.Contains(t, string(b), "<LevelOfDetails>ALL_CHECK_POINTS</LevelOfDetails>")
		_, _ = w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	p, err := New(Config{BaseURL: srv.URL, SiteID: "site", Password: "pw"}).Track(context.Background(), "1234567890")
	require.NoError(t, err)

	events, err := Normalizer(time.UTC)(p)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "OK", events[0].Code)
	require.Equal(t, "MILAN - ITALY", events[0].Location)
	require.Equal(t, "AF", events[1].Code)
	require.Equal(t, "MXP", events[1].Location)
	require.Equal(t, "PU", events[2].Code)
	require.Equal(t, time.Date(2025, 3, 8, 18, 30, 0, 0, time.UTC), events[2].Timestamp)
}

func TestClient_Track_Conditions(t *testing.T) {
	cases := map[string]carrier.ErrorKind{
		"101": carrier.KindNotFound,
		"111": carrier.KindAuthenticationFailed,
		"999": carrier.KindMalformedResponse,
	}
	for code, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<res:ErrorResponse xmlns:res="http://www.dhl.com"><Response><Status>
<ActionStatus>Error</ActionStatus><Condition><ConditionCode>` + code + `</ConditionCode><ConditionData>x</ConditionData></Condition>
</Status></Response></res:ErrorResponse>`))
		}))
		_, err := New(Config{BaseURL: srv.URL}).Track(context.Background(), "1")
		srv.Close()
		require.True(t, carrier.IsKind(err, want), code)
	}
}

func TestClient_Track_NoShipmentsFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<req:TrackingResponse xmlns:req="http://www.dhl.com"><AWBInfo><AWBNumber>1</AWBNumber>
<Status><ActionStatus>No Shipments Found</ActionStatus></Status></AWBInfo></req:TrackingResponse>`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Track(context.Background(), "1")
	require.True(t, carrier.IsKind(err, carrier.KindNotFound))
}

func TestClient_Track_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Track(context.Background(), "1")
	require.True(t, carrier.IsKind(err, carrier.KindTransient))
}

func TestMessageReference_Length(t *testing.T) {
	ref := messageReference(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	require.Len(t, ref, 30)
}
