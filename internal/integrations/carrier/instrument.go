package carrier

import (
	"context"
	"time"

	"github.com/BearBump/TrackHub/internal/metrics"
)

type instrumented struct {
	code Code
	next Adapter
}

// Instrument wraps an adapter with request counters and latency histograms.
func Instrument(code Code, a Adapter) Adapter {
	return &instrumented{code: code, next: a}
}

func (i *instrumented) Track(ctx context.Context, trackingNumber string) (RawPayload, error) {
	start := time.Now()
	p, err := i.next.Track(ctx, trackingNumber)
	metrics.CarrierRequestDuration.WithLabelValues(string(i.code)).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = KindTransient.String()
		if ce, ok := AsError(err); ok {
			outcome = ce.Kind.String()
		}
	}
	metrics.CarrierRequests.WithLabelValues(string(i.code), outcome).Inc()
	return p, err
}
