package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/broker/kafka"
	"github.com/BearBump/TrackHub/internal/cache/rediscache"
	"github.com/BearBump/TrackHub/internal/services/mappings"
	"github.com/BearBump/TrackHub/internal/services/shipments"
	"github.com/BearBump/TrackHub/internal/storage/pgstore"
)

type trackAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     trackAPIOpts
	svc      *shipments.Service
	colors   *mappings.Store
	every    time.Duration
	consumer *kafka.Consumer
	cache    *rediscache.RedisCache
	closeDB  func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error: %v", err))
	}

	st := mustOpenPostgresWithRetry(cfg.Database.DSN(), 60*time.Second)
	rc := rediscache.New(cfg.Redis.Addr())

	colors := mappings.New(st)
	if err := colors.Reload(context.Background()); err != nil {
		slog.Warn("initial mapping load failed, using default colors", "error", err.Error())
	}

	ttl := time.Duration(cfg.TrackHub.StatusViewTTLSeconds) * time.Second
	svc := shipments.New(st, rc, colors, ttl)

	topic := cfg.Kafka.StatusChangedTopicName
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, cfg.TrackHub.APIConsumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &trackAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: trackAPIOpts{
			httpAddr:      cfg.TrackHub.HTTPAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: cfg.TrackHub.APIConsumerGroup,
		},
		svc:      svc,
		colors:   colors,
		every:    time.Duration(cfg.TrackHub.MappingsReloadSeconds) * time.Second,
		consumer: consumer,
		cache:    rc,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *trackAPIApp) Run() error {
	if a.every > 0 {
		go reloadEvery(a.ctx, a.colors, a.every)
	}
	return runTrackAPI(a.ctx, a.opts, a.svc, a.consumer)
}

type reloader interface {
	Reload(ctx context.Context) error
}

func reloadEvery(ctx context.Context, r reloader, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Reload(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("periodic mapping reload failed", "error", err.Error())
			}
		}
	}
}
