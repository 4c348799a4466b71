package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/shipments"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu      sync.Mutex
	views   map[uint64]*shipments.View
	events  []*models.ShipmentEvent
	applied []messages.ShipmentStatusChanged
	paging  [2]int
}

func (f *fakeService) GetShipment(_ context.Context, id uint64) (*shipments.View, error) {
	v, ok := f.views[id]
	if !ok {
		return nil, shipments.ErrNotFound
	}
	return v, nil
}

func (f *fakeService) ListEvents(_ context.Context, id uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	if id == 500 {
		return nil, errors.New("db down")
	}
	f.paging = [2]int{limit, offset}
	return f.events, nil
}

func (f *fakeService) ApplyStatusChanged(_ context.Context, msg messages.ShipmentStatusChanged) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, msg)
	return nil
}

func (f *fakeService) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAPIRouter_Shipments(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	svc := &fakeService{
		views: map[uint64]*shipments.View{
			7: {ID: 7, Carrier: "BRT", LastPosition: "Consegnato", Color: "#00ff00", Delivered: true, Label: "Consegnato"},
		},
		events: []*models.ShipmentEvent{
			{ID: 1, ShipmentID: 7, EventTime: &at, Code: "CONSEGNATA", Description: "Consegnata"},
			{ID: 2, ShipmentID: 7, Code: "X", Description: "Ritirata", RawDate: "01.03.2026", RawTime: "??"},
		},
	}
	srv := httptest.NewServer(newAPIRouter(svc, writeSwagger(t)))
	t.Cleanup(srv.Close)

	status, body := get(t, srv.URL+"/shipments/7")
	require.Equal(t, http.StatusOK, status)
	var v shipments.View
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	require.Equal(t, "#00ff00", v.Color)
	require.True(t, v.Delivered)

	status, _ = get(t, srv.URL+"/shipments/8")
	require.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, srv.URL+"/shipments/abc")
	require.Equal(t, http.StatusBadRequest, status)

	status, body = get(t, srv.URL+"/shipments/7/events?limit=10&offset=5")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, [2]int{10, 5}, svc.paging)
	require.Contains(t, body, `"eventTime":"2026-03-02T09:30:00Z"`)
	require.Contains(t, body, `"rawDate":"01.03.2026"`)

	status, _ = get(t, srv.URL+"/shipments/500/events")
	require.Equal(t, http.StatusInternalServerError, status)

	status, body = get(t, srv.URL+"/swagger.json")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"swagger"`)

	status, _ = get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
}

func TestApplyStatusChanged_SkipsBadMessages(t *testing.T) {
	svc := &fakeService{}
	ctx := context.Background()

	require.NoError(t, applyStatusChanged(ctx, svc, []byte("not-json")))
	require.NoError(t, applyStatusChanged(ctx, svc, []byte(`{"shipment_id":0}`)))
	require.Equal(t, 0, svc.appliedCount())

	require.NoError(t, applyStatusChanged(ctx, svc, []byte(`{"shipment_id":3,"color":"#fff000"}`)))
	require.Equal(t, 1, svc.appliedCount())
	require.Equal(t, "#fff000", svc.applied[0].Color)
}

type chanConsumer struct {
	msgs chan []byte
}

func (c chanConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-c.msgs:
			if err := handler(nil, m); err != nil {
				return err
			}
		}
	}
}

func TestRunTrackAPI_ServesAndConsumes(t *testing.T) {
	svc := &fakeService{views: map[uint64]*shipments.View{}}
	cons := chanConsumer{msgs: make(chan []byte, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := trackAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   writeSwagger(t),
		topic:         "t",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runTrackAPI(ctx, opts, svc, cons)
	}()

	httpAddr := <-addrCh
	status, _ := get(t, "http://"+httpAddr+"/healthz")
	require.Equal(t, http.StatusOK, status)

	cons.msgs <- []byte(`{"shipment_id":1}`)
	require.Eventually(t, func() bool { return svc.appliedCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunTrackAPI_RequiresSwagger(t *testing.T) {
	err := runTrackAPI(context.Background(), trackAPIOpts{httpAddr: "127.0.0.1:0"}, &fakeService{}, chanConsumer{})
	require.Error(t, err)
}

type countingReloader struct {
	mu sync.Mutex
	n  int
}

func (r *countingReloader) Reload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *countingReloader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func TestReloadEvery(t *testing.T) {
	r := &countingReloader{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reloadEvery(ctx, r, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
