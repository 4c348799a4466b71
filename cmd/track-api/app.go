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

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/shipments"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type shipmentReader interface {
	GetShipment(ctx context.Context, id uint64) (*shipments.View, error)
	ListEvents(ctx context.Context, id uint64, limit, offset int) ([]*models.ShipmentEvent, error)
	ApplyStatusChanged(ctx context.Context, msg messages.ShipmentStatusChanged) error
}

func runTrackAPI(ctx context.Context, opts trackAPIOpts, svc shipmentReader, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return errors.New("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return errors.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(httpLis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpLis, newAPIRouter(svc, opts.swaggerPath))
	}()

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		err := consumer.Consume(ctx, func(_, value []byte) error {
			return applyStatusChanged(ctx, svc, value)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("status consumer stopped", "error", err.Error())
		}
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

// applyStatusChanged never fails the consumer: a view that could not be
// refreshed expires with its TTL.
func applyStatusChanged(ctx context.Context, svc shipmentReader, value []byte) error {
	var m messages.ShipmentStatusChanged
	if err := json.Unmarshal(value, &m); err != nil {
		slog.Error("skip malformed status message", "error", err.Error())
		return nil
	}
	if m.ShipmentID == 0 {
		slog.Error("skip status message without shipment id", "message_id", m.MessageID)
		return nil
	}
	if err := svc.ApplyStatusChanged(ctx, m); err != nil {
		slog.Warn("status view refresh failed", "shipment_id", m.ShipmentID, "error", err.Error())
	}
	return nil
}

func newAPIRouter(svc shipmentReader, swaggerPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	r.Route("/shipments/{id}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			id, ok := shipmentID(w, r)
			if !ok {
				return
			}
			v, err := svc.GetShipment(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, v)
		})
		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			id, ok := shipmentID(w, r)
			if !ok {
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			events, err := svc.ListEvents(r.Context(), id, limit, offset)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"events": toEventViews(events)})
		})
	})

	return r
}

type eventView struct {
	EventTime   *time.Time `json:"eventTime,omitempty"`
	Code        string     `json:"code"`
	Description string     `json:"description"`
	Location    string     `json:"location,omitempty"`
	RawDate     string     `json:"rawDate,omitempty"`
	RawTime     string     `json:"rawTime,omitempty"`
}

func toEventViews(events []*models.ShipmentEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			EventTime:   e.EventTime,
			Code:        e.Code,
			Description: e.Description,
			Location:    e.Location,
			RawDate:     e.RawDate,
			RawTime:     e.RawTime,
		})
	}
	return out
}

func shipmentID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid shipment id %q", chi.URLParam(r, "id"))})
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, shipments.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, shipments.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP API listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
