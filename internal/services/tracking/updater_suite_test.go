package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/clock"
	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/classifier"
	"github.com/BearBump/TrackHub/internal/storage/pgstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	trackingmocks "github.com/BearBump/TrackHub/internal/services/tracking/mocks"
)

type stubPayload struct{ events []models.Event }

func (stubPayload) Carrier() carrier.Code { return carrier.UPS }

type stubAdapter struct {
	calls   atomic.Int32
	events  []models.Event
	err     error
	release chan struct{}
	started chan struct{}
}

func (a *stubAdapter) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	a.calls.Add(1)
	if a.started != nil {
		close(a.started)
		a.started = nil
	}
	if a.release != nil {
		<-a.release
	}
	if a.err != nil {
		return nil, a.err
	}
	return stubPayload{events: a.events}, nil
}

func stubNormalize(p carrier.RawPayload) ([]models.Event, error) {
	sp := p.(stubPayload)
	out := append([]models.Event(nil), sp.events...)
	models.SortEventsDesc(out)
	return out, nil
}

type mapResolver map[string][2]string

func (m mapResolver) Resolve(carrierTag, code, fallback string) (string, string) {
	if r, ok := m[carrierTag+"|"+code]; ok {
		return r[0], r[1]
	}
	if fallback != "" {
		return fallback, models.DefaultColor
	}
	return code, models.DefaultColor
}

func strptr(s string) *string { return &s }

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type UpdaterSuite struct {
	suite.Suite

	repo     *trackingmocks.MockRepository
	producer *trackingmocks.MockProducer
	adapter  *stubAdapter
	updater  *Updater
}

func (s *UpdaterSuite) SetupTest() {
	s.repo = &trackingmocks.MockRepository{}
	s.producer = &trackingmocks.MockProducer{}
	s.adapter = &stubAdapter{events: []models.Event{
		{Timestamp: t0.Add(-2 * time.Hour), Code: "I", Description: "In transit"},
		{Timestamp: t0, Code: "D", Description: "DELIVERED"},
		{Timestamp: t0.Add(-time.Hour), Code: "O", Description: "Out for delivery"},
	}}
	reg := carrier.NewRegistry().Register(carrier.UPS, carrier.Provider{Adapter: s.adapter, Normalize: stubNormalize})
	resolver := mapResolver{"UPS|D": {"Consegnata", "#00ff00"}}
	s.updater = New(s.repo, reg, resolver, classifier.New(nil)).
		WithProducer(s.producer, "shipment.status_changed").
		WithClock(clock.NewFake(t0.Add(time.Minute)))
}

func (s *UpdaterSuite) TestUpdate_PersistsAndPublishes() {
	s.repo.On("GetShipment", mock.Anything, uint64(7)).
		Return(&models.Shipment{ID: 7, Carrier: "ups", TrackingNumber: "1Z", LastPosition: strptr("In transito")}, nil).Once()
	s.repo.On("ApplyStatusUpdate", mock.Anything, mock.MatchedBy(func(u models.StatusUpdate) bool {
		return u.ShipmentID == 7 && u.LastPosition == "Consegnata" && u.FinalPosition == models.Delivered &&
			u.UpdatedAt.Equal(t0.Add(time.Minute)) && len(u.Events) == 3 && u.Events[0].Code == "D"
	})).Return(nil).Once()

	var published messages.ShipmentStatusChanged
	s.producer.On("Publish", mock.Anything, "shipment.status_changed", []byte("7"), mock.Anything).
		Run(func(args mock.Arguments) {
			s.Require().NoError(json.Unmarshal(args.Get(3).([]byte), &published))
		}).Return(nil).Once()

	out, err := s.updater.UpdateTracking(context.Background(), 7)
	s.Require().NoError(err)
	s.Require().True(out.Changed)
	s.Require().Equal("Consegnata", out.LastPosition)
	s.Require().Equal("#00ff00", out.Color)
	s.Require().Equal(models.Delivered, out.FinalPosition)
	s.Require().Equal("UPS", out.Carrier)
	s.Require().Equal(3, out.Events)

	s.Require().Equal(uint64(7), published.ShipmentID)
	s.Require().True(published.Delivered)
	s.Require().NotEmpty(published.MessageID)

	s.repo.AssertExpectations(s.T())
	s.producer.AssertExpectations(s.T())
}

func (s *UpdaterSuite) TestUpdate_IdempotentWhenUnchanged() {
	s.repo.On("GetShipment", mock.Anything, uint64(7)).
		Return(&models.Shipment{ID: 7, Carrier: "UPS", TrackingNumber: "1Z",
			LastPosition: strptr("Consegnata"), FinalPosition: models.Delivered}, nil).Twice()

	first, err := s.updater.UpdateTracking(context.Background(), 7)
	s.Require().NoError(err)
	second, err := s.updater.UpdateTracking(context.Background(), 7)
	s.Require().NoError(err)

	s.Require().False(first.Changed)
	s.Require().Equal(first, second)
	s.repo.AssertNotCalled(s.T(), "ApplyStatusUpdate", mock.Anything, mock.Anything)
	s.producer.AssertNotCalled(s.T(), "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *UpdaterSuite) TestUpdate_AdapterErrorNeverWrites() {
	for _, err := range []error{
		carrier.RateLimited(carrier.UPS, 30*time.Second, nil),
		carrier.Transient(carrier.UPS, errors.New("timeout")),
		carrier.AuthenticationFailed(carrier.UPS, nil),
		carrier.NotFound(carrier.UPS, nil),
		carrier.Malformed(carrier.UPS, nil),
	} {
		s.SetupTest()
		s.adapter.err = err
		s.repo.On("GetShipment", mock.Anything, uint64(7)).
			Return(&models.Shipment{ID: 7, Carrier: "UPS", TrackingNumber: "1Z", LastPosition: strptr("In transito")}, nil).Once()

		_, got := s.updater.UpdateTracking(context.Background(), 7)
		var ue *UpdateError
		s.Require().True(errors.As(got, &ue))
		s.Require().Equal(KindAdapter, ue.Kind)
		s.Require().False(ue.Terminal())
		s.Require().Equal("1Z", ue.TrackingNumber)
		ce, ok := ue.CarrierError()
		s.Require().True(ok)
		s.Require().Equal(carrier.UPS, ce.Carrier)
		s.repo.AssertNotCalled(s.T(), "ApplyStatusUpdate", mock.Anything, mock.Anything)
	}

	s.SetupTest()
	s.adapter.err = carrier.RateLimited(carrier.UPS, 30*time.Second, nil)
	s.repo.On("GetShipment", mock.Anything, uint64(7)).Return(&models.Shipment{ID: 7, Carrier: "UPS"}, nil).Once()
	_, got := s.updater.UpdateTracking(context.Background(), 7)
	var ue *UpdateError
	s.Require().True(errors.As(got, &ue))
	hint, ok := ue.RateLimited()
	s.Require().True(ok)
	s.Require().Equal(30*time.Second, hint)
}

func (s *UpdaterSuite) TestUpdate_TerminalErrors() {
	s.repo.On("GetShipment", mock.Anything, uint64(1)).Return(nil, pgstore.ErrNotFound).Once()
	s.repo.On("GetShipment", mock.Anything, uint64(2)).Return(&models.Shipment{ID: 2, Carrier: "GLS", TrackingNumber: "G"}, nil).Once()
	s.repo.On("GetShipment", mock.Anything, uint64(3)).Return(&models.Shipment{ID: 3, Carrier: "DHL", TrackingNumber: "D"}, nil).Once()

	for id, kind := range map[uint64]ErrorKind{1: KindShipmentNotFound, 2: KindUnsupportedCarrier, 3: KindUnsupportedCarrier} {
		_, err := s.updater.UpdateTracking(context.Background(), id)
		var ue *UpdateError
		s.Require().True(errors.As(err, &ue))
		s.Require().Equal(kind, ue.Kind)
		s.Require().True(ue.Terminal())
	}
	s.Require().Zero(s.adapter.calls.Load())
}

func (s *UpdaterSuite) TestUpdate_NoEvents() {
	s.adapter.events = nil
	s.repo.On("GetShipment", mock.Anything, uint64(7)).Return(&models.Shipment{ID: 7, Carrier: "UPS"}, nil).Once()

	_, err := s.updater.UpdateTracking(context.Background(), 7)
	var ue *UpdateError
	s.Require().True(errors.As(err, &ue))
	s.Require().Equal(KindNoEvents, ue.Kind)
	s.repo.AssertNotCalled(s.T(), "ApplyStatusUpdate", mock.Anything, mock.Anything)
}

func (s *UpdaterSuite) TestUpdate_PersistenceErrorSurfaced() {
	s.repo.On("GetShipment", mock.Anything, uint64(7)).Return(&models.Shipment{ID: 7, Carrier: "UPS"}, nil).Once()
	s.repo.On("ApplyStatusUpdate", mock.Anything, mock.Anything).Return(errors.New("deadlock")).Once()

	_, err := s.updater.UpdateTracking(context.Background(), 7)
	var ue *UpdateError
	s.Require().True(errors.As(err, &ue))
	s.Require().Equal(KindPersistence, ue.Kind)
	s.Require().Contains(err.Error(), "deadlock")
	s.producer.AssertNotCalled(s.T(), "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *UpdaterSuite) TestUpdate_PublishFailureDoesNotFail() {
	s.repo.On("GetShipment", mock.Anything, uint64(7)).Return(&models.Shipment{ID: 7, Carrier: "UPS"}, nil).Once()
	s.repo.On("ApplyStatusUpdate", mock.Anything, mock.Anything).Return(nil).Once()
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("kafka down")).Once()

	out, err := s.updater.UpdateTracking(context.Background(), 7)
	s.Require().NoError(err)
	s.Require().True(out.Changed)
}

type countingPacer struct {
	codes []carrier.Code
	err   error
}

func (p *countingPacer) Wait(ctx context.Context, code carrier.Code) error {
	p.codes = append(p.codes, code)
	return p.err
}

func (s *UpdaterSuite) TestUpdate_WaitsForPacer() {
	p := &countingPacer{}
	s.updater.WithPacer(p)
	s.repo.On("GetShipment", mock.Anything, uint64(7)).
		Return(&models.Shipment{ID: 7, Carrier: "UPS", LastPosition: strptr("Consegnata"), FinalPosition: models.Delivered}, nil).Once()

	_, err := s.updater.UpdateTracking(context.Background(), 7)
	s.Require().NoError(err)
	s.Require().Equal([]carrier.Code{carrier.UPS}, p.codes)

	p.err = context.Canceled
	s.repo.On("GetShipment", mock.Anything, uint64(8)).Return(&models.Shipment{ID: 8, Carrier: "UPS"}, nil).Once()
	_, err = s.updater.UpdateTracking(context.Background(), 8)
	var ue *UpdateError
	s.Require().True(errors.As(err, &ue))
	s.Require().Equal(KindAdapter, ue.Kind)
	s.Require().Equal(int32(1), s.adapter.calls.Load())
}

func TestUpdaterSuite(t *testing.T) {
	suite.Run(t, new(UpdaterSuite))
}

// memRepo counts writes and serves the last written state back.
type memRepo struct {
	mu     sync.Mutex
	sh     models.Shipment
	writes int
}

func (r *memRepo) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.sh
	return &cp, nil
}

func (r *memRepo) ApplyStatusUpdate(ctx context.Context, upd models.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	pos := upd.LastPosition
	r.sh.LastPosition = &pos
	r.sh.FinalPosition = upd.FinalPosition
	return nil
}

func TestUpdateTracking_SingleFlight(t *testing.T) {
	repo := &memRepo{sh: models.Shipment{ID: 5, Carrier: "UPS", TrackingNumber: "1Z"}}
	adapter := &stubAdapter{
		events:  []models.Event{{Timestamp: t0, Code: "D", Description: "Delivered"}},
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	started := adapter.started
	reg := carrier.NewRegistry().Register(carrier.UPS, carrier.Provider{Adapter: adapter, Normalize: stubNormalize})
	u := New(repo, reg, mapResolver{}, classifier.New(nil))

	var wg sync.WaitGroup
	results := make([]Outcome, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := u.UpdateTracking(context.Background(), 5)
		require.NoError(t, err)
		results[0] = out
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := u.UpdateTracking(context.Background(), 5)
		require.NoError(t, err)
		results[1] = out
	}()
	// Give the second caller time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(adapter.release)
	wg.Wait()

	require.Equal(t, 1, repo.writes)
	require.Equal(t, results[0], results[1])
	require.Equal(t, int32(1), adapter.calls.Load())

	// A later call sees the written state and does not write again.
	out, err := u.UpdateTracking(context.Background(), 5)
	require.NoError(t, err)
	require.False(t, out.Changed)
	require.Equal(t, 1, repo.writes)
}

// blockingAdapter fails with the call's own ctx error when it is cancelled
// before release, like an HTTP adapter would.
type blockingAdapter struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (a *blockingAdapter) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	if a.calls.Add(1) == 1 {
		close(a.started)
	}
	select {
	case <-ctx.Done():
		return nil, carrier.Transient(carrier.UPS, ctx.Err())
	case <-a.release:
	}
	return stubPayload{events: []models.Event{{Timestamp: t0, Code: "D", Description: "Delivered"}}}, nil
}

func TestUpdateTracking_CancelledCallerDoesNotFailOthers(t *testing.T) {
	repo := &memRepo{sh: models.Shipment{ID: 5, Carrier: "UPS", TrackingNumber: "1Z"}}
	adapter := &blockingAdapter{started: make(chan struct{}), release: make(chan struct{})}
	reg := carrier.NewRegistry().Register(carrier.UPS, carrier.Provider{Adapter: adapter, Normalize: stubNormalize})
	u := New(repo, reg, mapResolver{}, classifier.New(nil))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := u.UpdateTracking(ctx, 5)
		firstErr <- err
	}()
	<-adapter.started

	type result struct {
		out Outcome
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := u.UpdateTracking(context.WithoutCancel(context.Background()), 5)
		second <- result{out, err}
	}()
	// Give the second caller time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(adapter.release)
	res := <-second
	require.NoError(t, res.err)
	require.True(t, res.out.Changed)
	require.Equal(t, 1, repo.writes)
	require.Equal(t, int32(1), adapter.calls.Load())
}
