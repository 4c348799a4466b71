package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/services/mappings"
	"github.com/BearBump/TrackHub/internal/services/sweep"
	"github.com/BearBump/TrackHub/internal/services/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type sweeper interface {
	Start() bool
	Stop() error
	Running() bool
	Trigger() bool
	Stats() sweep.Stats
	RunOnce(ctx context.Context) (sweep.CycleResult, error)
}

type shipmentUpdater interface {
	UpdateTracking(ctx context.Context, shipmentID uint64) (tracking.Outcome, error)
}

type mappingAdmin interface {
	Reload(ctx context.Context) error
	Len() int
	Entries() map[string]map[string]mappings.Resolved
}

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	scheduler sweeper
	updater   shipmentUpdater
	mappings  mappingAdmin
	carriers  []carrier.Code
	ready     func(ctx context.Context) error
	cfg       *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return errors.New("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return errors.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newWorkerRouter(opts), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("worker admin HTTP listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}

func newWorkerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.ready != nil {
			if err := opts.ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{"sweep": opts.scheduler.Stats()}
		if opts.mappings != nil {
			out["mappings"] = opts.mappings.Len()
		}
		out["carriers"] = opts.carriers
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeError(w, http.StatusServiceUnavailable, "config not wired")
			return
		}
		writeJSON(w, http.StatusOK, publicConfig(opts.cfg))
	})

	r.Route("/sweep", func(r chi.Router) {
		r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
			started := opts.scheduler.Start()
			writeJSON(w, http.StatusOK, map[string]bool{"started": started, "running": opts.scheduler.Running()})
		})
		r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
			if err := opts.scheduler.Stop(); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"running": opts.scheduler.Running()})
		})
		r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"triggered": opts.scheduler.Trigger()})
		})
	})

	r.Get("/mappings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, opts.mappings.Entries())
	})
	r.Post("/mappings/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := opts.mappings.Reload(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"entries": opts.mappings.Len()})
	})

	r.Post("/shipments/update-in-transit", func(w http.ResponseWriter, r *http.Request) {
		res, err := opts.scheduler.RunOnce(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
	r.Post("/shipments/{id}/refresh", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id == 0 {
			writeError(w, http.StatusBadRequest, "invalid shipment id")
			return
		}
		out, err := opts.updater.UpdateTracking(r.Context(), id)
		if err != nil {
			writeUpdateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Handle("/metrics", promhttp.Handler())

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	return r
}

// publicConfig lists operational settings only, never credentials.
func publicConfig(cfg *config.Config) map[string]any {
	carriers := map[string]any{}
	for code, cc := range carrierConfigs(cfg) {
		carriers[string(code)] = map[string]any{
			"enabled":            !cc.Disabled,
			"simulate":           cc.Simulate,
			"baseUrl":            cc.BaseURL,
			"timeout":            cc.Timeout().String(),
			"minDelay":           cc.MinDelay().String(),
			"rateLimitPerMinute": cc.RateLimitPerMinute,
		}
	}
	sc := sweepConfig(cfg)
	return map[string]any{
		"sweep": map[string]any{
			"interval":          sc.Interval.String(),
			"batchSize":         sc.BatchSize,
			"lookback":          sc.Lookback.String(),
			"defaultMinDelay":   cfg.Sweep.DefaultMinDelay().String(),
			"retryBaseDelay":    sc.RetryBaseDelay.String(),
			"maxRetries":        sc.MaxRetries,
			"panicCooldown":     sc.PanicCooldown.String(),
			"stopTimeout":       sc.StopTimeout.String(),
			"autostart":         cfg.Sweep.Autostart,
			"distributedPacing": cfg.Sweep.DistributedPacing,
		},
		"classifier": map[string]any{
			"keywordsFile": cfg.Classifier.KeywordsFile,
			"watch":        cfg.Classifier.Watch,
		},
		"carriers": carriers,
	}
}

func writeUpdateError(w http.ResponseWriter, err error) {
	var ue *tracking.UpdateError
	if !errors.As(err, &ue) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch ue.Kind {
	case tracking.KindShipmentNotFound:
		status = http.StatusNotFound
	case tracking.KindUnsupportedCarrier, tracking.KindNoEvents:
		status = http.StatusUnprocessableEntity
	case tracking.KindAdapter:
		status = http.StatusBadGateway
		if wait, ok := ue.RateLimited(); ok {
			status = http.StatusTooManyRequests
			if wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
			}
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": ue.Kind.String()})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
