package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackHub/internal/clock"
	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/metrics"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/tracking"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	ListInTransitShipments(ctx context.Context, carriers []string, since time.Time, limit int) ([]*models.Shipment, error)
}

type Updater interface {
	UpdateTracking(ctx context.Context, shipmentID uint64) (tracking.Outcome, error)
}

type Config struct {
	Interval       time.Duration
	BatchSize      int
	Lookback       time.Duration
	RetryBaseDelay time.Duration
	MaxRetries     int
	PanicCooldown  time.Duration
	StopTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 20 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Lookback <= 0 {
		c.Lookback = 14 * 24 * time.Hour
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PanicCooldown <= 0 {
		c.PanicCooldown = time.Minute
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	return c
}

// CycleResult summarizes one pass over the in-transit batch.
type CycleResult struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Selected  int       `json:"selected"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Failed    int       `json:"failed"`
	Retries   int       `json:"retries"`
	Stopped   bool      `json:"stopped"`
}

// Scheduler periodically refreshes in-transit shipments, one at a time.
// States: stopped, running. Start and Stop are idempotent.
type Scheduler struct {
	repo     Repository
	updater  Updater
	carriers []string
	cfg      Config
	clock    clock.Clock

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	triggerCh chan struct{}

	cycleMu sync.Mutex

	startedAtUnixNano atomic.Int64
	lastCycleUnixNano atomic.Int64
	cycles            atomic.Int64
	processed         atomic.Int64
	updated           atomic.Int64
	unchanged         atomic.Int64
	failed            atomic.Int64
	retries           atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
	lastCycleID       string
}

// New builds a stopped scheduler over shipments whose carrier tag is one of carriers.
func New(repo Repository, updater Updater, carriers []string, cfg Config) *Scheduler {
	return &Scheduler{
		repo:      repo,
		updater:   updater,
		carriers:  carriers,
		cfg:       cfg.withDefaults(),
		clock:     clock.Real{},
		triggerCh: make(chan struct{}, 1),
	}
}

func (s *Scheduler) WithClock(c clock.Clock) *Scheduler {
	if c != nil {
		s.clock = c
	}
	return s
}

func (s *Scheduler) Config() Config { return s.cfg }

// Start launches the sweep loop and returns immediately. It reports false
// when the loop was already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAtUnixNano.Store(s.clock.Now().UnixNano())
	metrics.SweepRunning.Set(1)

	go s.loop(ctx, s.done)
	slog.Info("sweep started", "interval", s.cfg.Interval.String(), "batch_size", s.cfg.BatchSize)
	return true
}

// Stop signals the loop and waits up to StopTimeout for it to exit. The
// loop only observes the signal between shipments.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	t := time.NewTimer(s.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-done:
		slog.Info("sweep stopped")
		return nil
	case <-t.C:
		return errors.Errorf("sweep did not stop within %s", s.cfg.StopTimeout)
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger cuts the current wait short. It reports false when the loop is
// not running.
func (s *Scheduler) Trigger() bool {
	if !s.Running() {
		return false
	}
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		metrics.SweepRunning.Set(0)
		close(done)
	}()

	for {
		if s.safeCycle(ctx) {
			if err := s.clock.Sleep(ctx, s.cfg.PanicCooldown); err != nil {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.waitNext(ctx); err != nil {
			return
		}
	}
}

// safeCycle runs one cycle and reports whether it panicked.
func (s *Scheduler) safeCycle(ctx context.Context) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			metrics.SweepPanics.Inc()
			s.setLastError(fmt.Sprintf("panic: %v", r))
			slog.Error("sweep cycle panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()),
				"cooldown", s.cfg.PanicCooldown.String())
		}
	}()
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		slog.Error("sweep cycle", "error", err.Error())
	}
	return false
}

func (s *Scheduler) waitNext(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.triggerCh:
			cancel()
		case <-sctx.Done():
		}
	}()
	_ = s.clock.Sleep(sctx, s.cfg.Interval)
	return ctx.Err()
}

// RunOnce processes one batch synchronously. Cancelling ctx stops the batch
// before the next shipment; an update already in progress completes.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	now := s.clock.Now()
	res := CycleResult{ID: uuid.NewString(), StartedAt: now}
	s.lastCycleUnixNano.Store(now.UnixNano())
	s.lastErrorMu.Lock()
	s.lastCycleID = res.ID
	s.lastErrorMu.Unlock()

	list, err := s.repo.ListInTransitShipments(ctx, s.carriers, now.Add(-s.cfg.Lookback), s.cfg.BatchSize)
	if err != nil {
		err = errors.Wrap(err, "list in-transit shipments")
		s.setLastError(err.Error())
		return res, err
	}
	res.Selected = len(list)
	slog.Info("sweep cycle started", "cycle_id", res.ID, "shipments", len(list))

	for _, sh := range list {
		if ctx.Err() != nil {
			res.Stopped = true
			break
		}
		s.process(ctx, res.ID, sh, &res)
	}

	s.cycles.Add(1)
	metrics.SweepCycles.Inc()
	slog.Info("sweep cycle finished", "cycle_id", res.ID, "selected", res.Selected, "updated", res.Updated,
		"unchanged", res.Unchanged, "failed", res.Failed, "retries", res.Retries, "stopped", res.Stopped)
	return res, nil
}

func (s *Scheduler) process(ctx context.Context, cycleID string, sh *models.Shipment, res *CycleResult) {
	callCtx := context.WithoutCancel(ctx)
	s.processed.Add(1)

	for attempt := 1; ; attempt++ {
		out, err := s.updater.UpdateTracking(callCtx, sh.ID)
		if err == nil {
			if out.Changed {
				res.Updated++
				s.updated.Add(1)
			} else {
				res.Unchanged++
				s.unchanged.Add(1)
			}
			return
		}

		var ue *tracking.UpdateError
		if errors.As(err, &ue) {
			if hint, ok := ue.RateLimited(); ok && attempt <= s.cfg.MaxRetries {
				delay := Backoff(s.cfg.RetryBaseDelay, attempt)
				if hint > delay {
					delay = hint
				}
				res.Retries++
				s.retries.Add(1)
				metrics.SweepRetries.WithLabelValues(carrierLabel(sh.Carrier)).Inc()
				slog.Warn("carrier rate limited, backing off", "cycle_id", cycleID, "shipment_id", sh.ID,
					"carrier", sh.Carrier, "attempt", attempt, "delay", delay.String())
				if err := s.clock.Sleep(ctx, delay); err != nil {
					break
				}
				continue
			}
		}

		slog.Error("update shipment", "cycle_id", cycleID, "shipment_id", sh.ID, "carrier", sh.Carrier,
			"attempt", attempt, "error", err.Error())
		s.setLastError(err.Error())
		break
	}
	res.Failed++
	s.failed.Add(1)
}

func carrierLabel(tag string) string {
	if c, ok := carrier.ParseCode(tag); ok {
		return string(c)
	}
	return tag
}

func (s *Scheduler) setLastError(msg string) {
	s.lastErrorMu.Lock()
	s.lastError = msg
	s.lastErrorMu.Unlock()
}

type Stats struct {
	Running     bool       `json:"running"`
	Interval    string     `json:"interval"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	LastCycleAt *time.Time `json:"lastCycleAt,omitempty"`
	LastCycleID string     `json:"lastCycleId,omitempty"`
	Cycles      int64      `json:"cycles"`
	Processed   int64      `json:"processed"`
	Updated     int64      `json:"updated"`
	Unchanged   int64      `json:"unchanged"`
	Failed      int64      `json:"failed"`
	Retries     int64      `json:"rateLimitedRetries"`
	LastError   string     `json:"lastError,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Running:   s.Running(),
		Interval:  s.cfg.Interval.String(),
		Cycles:    s.cycles.Load(),
		Processed: s.processed.Load(),
		Updated:   s.updated.Load(),
		Unchanged: s.unchanged.Load(),
		Failed:    s.failed.Load(),
		Retries:   s.retries.Load(),
	}
	if n := s.startedAtUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.StartedAt = &t
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	st.LastCycleID = s.lastCycleID
	s.lastErrorMu.Unlock()
	return st
}
