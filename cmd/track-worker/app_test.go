package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/sweep"
	"github.com/BearBump/TrackHub/internal/services/tracking"
	"github.com/BearBump/TrackHub/internal/storage/pgstore"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu        sync.Mutex
	shipments map[uint64]*models.Shipment
	mappings  []models.MappingEntry
	applied   []models.StatusUpdate
}

func (m *memStorage) GetShipment(_ context.Context, id uint64) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shipments[id]
	if !ok {
		return nil, pgstore.ErrNotFound
	}
	cp := *sh
	return &cp, nil
}

func (m *memStorage) ApplyStatusUpdate(_ context.Context, upd models.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shipments[upd.ShipmentID]
	if !ok {
		return pgstore.ErrNotFound
	}
	pos := upd.LastPosition
	at := upd.UpdatedAt
	sh.LastPosition = &pos
	sh.LastPositionUpdatedAt = &at
	sh.FinalPosition = upd.FinalPosition
	m.applied = append(m.applied, upd)
	return nil
}

func (m *memStorage) ListInTransitShipments(context.Context, []string, time.Time, int) ([]*models.Shipment, error) {
	return nil, nil
}

func (m *memStorage) ListTrackingCodeMappings(context.Context) ([]models.MappingEntry, error) {
	return m.mappings, nil
}

func (m *memStorage) Ping(context.Context) error { return nil }

type noopProducer struct{}

func (noopProducer) Publish(context.Context, string, []byte, []byte) error { return nil }

type idleConsumer struct{}

func (idleConsumer) Consume(ctx context.Context, _ func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func simulatedConfig() *config.Config {
	retries := 5
	return &config.Config{
		TrackHub: config.TrackHubConfig{CarrierTimezone: "Europe/Rome"},
		Sweep:    config.SweepConfig{MaxRetries: &retries},
		Carriers: config.CarriersConfig{
			UPS:   config.CarrierConfig{Disabled: true},
			DHL:   config.CarrierConfig{Disabled: true},
			SDA:   config.CarrierConfig{Disabled: true},
			BRT:   config.CarrierConfig{Disabled: true},
			FedEx: config.CarrierConfig{Simulate: true},
			TNT:   config.CarrierConfig{Simulate: true},
		},
	}
}

func testFactories(st workerStorage) workerFactories {
	return workerFactories{
		newStorage: func(*config.Config) (workerStorage, func(), error) {
			return st, nil, nil
		},
		newProducer: func(*config.Config) tracking.Producer { return noopProducer{} },
		newConsumer: func(*config.Config) kafkaConsumer { return idleConsumer{} },
		newRegistry: buildRegistry,
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := simulatedConfig()
	cfg.Carriers.UPS = config.CarrierConfig{}

	reg := buildRegistry(cfg)
	require.Equal(t, []carrier.Code{carrier.UPS, carrier.FedEx, carrier.TNT}, reg.Codes())
	require.Equal(t, []string{"FED", "FEDEX", "TNT", "UPS"}, reg.Tags())

	p, ok := reg.Lookup(carrier.TNT)
	require.True(t, ok)
	raw, err := p.Adapter.Track(context.Background(), "TN1")
	require.NoError(t, err)
	_, isFake := raw.(*fake.Payload)
	require.True(t, isFake)

	_, ok = reg.Lookup(carrier.DHL)
	require.False(t, ok)
}

func TestDerivedSettingsFromConfigFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
carriers:
  brt:
    min_delay_ms: 2000
    rate_limit_per_minute: 30
`), 0o600))
	cfg, err := config.LoadConfig(p)
	require.NoError(t, err)

	gaps := pacingGaps(cfg)
	require.Equal(t, time.Second, gaps.For(carrier.DHL))
	require.Equal(t, 5*time.Second, gaps.For(carrier.UPS))
	require.Equal(t, 2*time.Second, gaps.For(carrier.BRT))
	require.Equal(t, map[carrier.Code]int64{carrier.BRT: 30}, perMinuteBudgets(cfg))

	require.Equal(t, sweep.Config{
		Interval:       20 * time.Minute,
		BatchSize:      100,
		Lookback:       14 * 24 * time.Hour,
		RetryBaseDelay: 30 * time.Second,
		MaxRetries:     5,
		PanicCooldown:  time.Minute,
		StopTimeout:    10 * time.Second,
	}, sweepConfig(cfg))
}

func TestNewWorker_NoCarriers(t *testing.T) {
	cfg := simulatedConfig()
	cfg.Carriers.FedEx.Disabled = true
	cfg.Carriers.TNT.Disabled = true

	_, err := newWorker(context.Background(), cfg, &memStorage{}, testFactories(&memStorage{}))
	require.Error(t, err)
}

func TestNewWorker_BadKeywordFile(t *testing.T) {
	cfg := simulatedConfig()
	cfg.Classifier.KeywordsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newWorker(context.Background(), cfg, &memStorage{}, testFactories(&memStorage{}))
	require.Error(t, err)
}

func TestWorker_HandleRefresh(t *testing.T) {
	st := &memStorage{
		shipments: map[uint64]*models.Shipment{
			1: {ID: 1, Carrier: "tnt", TrackingNumber: "TN1", ShippedAt: time.Now().Add(-time.Hour)},
		},
		mappings: []models.MappingEntry{
			{ID: 1, Carrier: "TNT", Code: "IN_TRANSIT", DisplayName: "In viaggio", Color: "#0000ff"},
			{ID: 2, Carrier: "TNT", Code: "DELIVERED", DisplayName: "Consegnato", Color: "#00ff00"},
		},
	}
	cfg := simulatedConfig()
	cfg.Carriers.TNT.MinDelayMillis = 1

	w, err := newWorker(context.Background(), cfg, st, testFactories(st))
	require.NoError(t, err)
	require.Equal(t, 2, w.mappings.Len())

	require.NoError(t, w.handleRefresh(context.Background(), []byte("not-json")))
	require.NoError(t, w.handleRefresh(context.Background(), []byte(`{"shipment_id":0}`)))
	require.NoError(t, w.handleRefresh(context.Background(), []byte(`{"shipment_id":404}`)))
	require.Empty(t, st.applied)

	b, _ := json.Marshal(map[string]any{"shipment_id": 1, "source": "test"})
	require.NoError(t, w.handleRefresh(context.Background(), b))
	require.Len(t, st.applied, 1)
	require.Contains(t, []string{"In viaggio", "Consegnato"}, st.applied[0].LastPosition)
}

func TestRunTrackWorker_ContextCanceled(t *testing.T) {
	calledClose := false
	st := &memStorage{}
	f := testFactories(st)
	f.newStorage = func(*config.Config) (workerStorage, func(), error) {
		return st, func() { calledClose = true }, nil
	}

	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTrackWorker(ctx, simulatedConfig(), f, workerHTTPOpts{httpAddr: "127.0.0.1:0", swaggerPath: sw})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestRunTrackWorker_StorageError(t *testing.T) {
	f := testFactories(nil)
	f.newStorage = func(*config.Config) (workerStorage, func(), error) {
		return nil, nil, pgstore.ErrNotFound
	}
	err := RunTrackWorker(context.Background(), simulatedConfig(), f, workerHTTPOpts{})
	require.ErrorIs(t, err, pgstore.ErrNotFound)
}
