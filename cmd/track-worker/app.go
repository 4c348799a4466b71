package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/broker/kafka"
	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/cache/rediscache"
	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/classifier"
	"github.com/BearBump/TrackHub/internal/services/mappings"
	"github.com/BearBump/TrackHub/internal/services/sweep"
	"github.com/BearBump/TrackHub/internal/services/tracking"
	"github.com/BearBump/TrackHub/internal/storage/pgstore"
	"github.com/pkg/errors"
)

// workerStorage is everything the worker needs from PostgreSQL.
type workerStorage interface {
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	ApplyStatusUpdate(ctx context.Context, upd models.StatusUpdate) error
	ListInTransitShipments(ctx context.Context, carriers []string, since time.Time, limit int) ([]*models.Shipment, error)
	ListTrackingCodeMappings(ctx context.Context) ([]models.MappingEntry, error)
	Ping(ctx context.Context) error
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newProducer    func(cfg *config.Config) tracking.Producer
	newRateLimiter func(cfg *config.Config) sweep.Limiter
	newConsumer    func(cfg *config.Config) kafkaConsumer
	newRegistry    func(cfg *config.Config) *carrier.Registry
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			st, err := pgstore.New(cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) tracking.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) sweep.Limiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newConsumer: func(cfg *config.Config) kafkaConsumer {
			return kafka.NewConsumer(cfg.Kafka.Brokers(), cfg.Kafka.RefreshRequestsTopicName, cfg.TrackHub.WorkerConsumerGroup)
		},
		newRegistry: buildRegistry,
	}
}

type worker struct {
	registry   *carrier.Registry
	mappings   *mappings.Store
	classifier *classifier.Classifier
	updater    *tracking.Updater
	scheduler  *sweep.Scheduler

	closers []io.Closer
}

func newWorker(ctx context.Context, cfg *config.Config, st workerStorage, f workerFactories) (*worker, error) {
	w := &worker{registry: f.newRegistry(cfg)}
	if len(w.registry.Codes()) == 0 {
		return nil, errors.New("no carriers enabled")
	}

	w.mappings = mappings.New(st)
	if err := w.mappings.Reload(ctx); err != nil {
		slog.Warn("initial mapping load failed, resolving with fallbacks", "error", err.Error())
	}

	w.classifier = classifier.New(nil)
	if path := cfg.Classifier.KeywordsFile; path != "" {
		kw, err := classifier.LoadFile(path)
		if err != nil {
			return nil, err
		}
		w.classifier.SetKeywords(kw)
		if cfg.Classifier.Watch {
			if err := w.classifier.Watch(ctx, path); err != nil {
				return nil, err
			}
		}
	}

	gaps := pacingGaps(cfg)
	var pacer tracking.Pacer = sweep.NewMemoryPacer(gaps, nil)
	if cfg.Sweep.DistributedPacing && f.newRateLimiter != nil {
		rl := f.newRateLimiter(cfg)
		w.track(rl)
		pacer = sweep.NewRedisPacer(rl, gaps, perMinuteBudgets(cfg), nil)
	}

	w.updater = tracking.New(st, w.registry, w.mappings, w.classifier).WithPacer(pacer)
	if f.newProducer != nil {
		p := f.newProducer(cfg)
		w.track(p)
		w.updater.WithProducer(p, cfg.Kafka.StatusChangedTopicName)
	}

	w.scheduler = sweep.New(st, w.updater, w.registry.Tags(), sweepConfig(cfg))
	return w, nil
}

func (w *worker) track(v any) {
	if c, ok := v.(io.Closer); ok {
		w.closers = append(w.closers, c)
	}
}

func (w *worker) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		_ = w.closers[i].Close()
	}
}

// handleRefresh runs one on-demand update. Per-shipment failures are logged
// and the message is committed; only malformed messages are skipped loudly.
func (w *worker) handleRefresh(ctx context.Context, value []byte) error {
	var m messages.RefreshRequested
	if err := json.Unmarshal(value, &m); err != nil {
		slog.Error("skip malformed refresh request", "error", err.Error())
		return nil
	}
	if m.ShipmentID == 0 {
		slog.Error("skip refresh request without shipment id", "source", m.Source)
		return nil
	}
	out, err := w.updater.UpdateTracking(ctx, m.ShipmentID)
	if err != nil {
		slog.Warn("refresh request failed", "shipment_id", m.ShipmentID, "source", m.Source, "error", err.Error())
		return nil
	}
	slog.Info("refresh request done", "shipment_id", m.ShipmentID, "changed", out.Changed, "last_position", out.LastPosition)
	return nil
}

func (w *worker) reloadMappingsEvery(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.mappings.Reload(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("periodic mapping reload failed", "error", err.Error())
			}
		}
	}
}

func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	w, err := newWorker(ctx, cfg, st, f)
	if err != nil {
		return err
	}
	defer w.close()

	go w.reloadMappingsEvery(ctx, time.Duration(cfg.TrackHub.MappingsReloadSeconds)*time.Second)

	if cfg.Sweep.Autostart {
		w.scheduler.Start()
	}
	defer func() {
		if err := w.scheduler.Stop(); err != nil {
			slog.Error("sweep stop", "error", err.Error())
		}
	}()

	if f.newConsumer != nil {
		consumer := f.newConsumer(cfg)
		w.track(consumer)
		go func() {
			slog.Info("kafka consumer started", "topic", cfg.Kafka.RefreshRequestsTopicName, "group", cfg.TrackHub.WorkerConsumerGroup)
			err := consumer.Consume(ctx, func(_, value []byte) error {
				return w.handleRefresh(ctx, value)
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("refresh consumer stopped", "error", err.Error())
			}
		}()
	}

	httpOpts.scheduler = w.scheduler
	httpOpts.updater = w.updater
	httpOpts.mappings = w.mappings
	httpOpts.carriers = w.registry.Codes()
	httpOpts.cfg = cfg
	httpOpts.ready = st.Ping

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, httpOpts)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}
