package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/TrackHub/internal/clock"
	"github.com/BearBump/TrackHub/internal/integrations/carrier"
)

// Gaps is the minimum spacing between two calls to the same carrier.
type Gaps struct {
	Default    time.Duration
	PerCarrier map[carrier.Code]time.Duration
}

func (g Gaps) For(code carrier.Code) time.Duration {
	if d, ok := g.PerCarrier[code]; ok {
		return d
	}
	return g.Default
}

// MemoryPacer spaces calls within one process. Each Wait reserves the next
// slot before sleeping, so concurrent callers queue up instead of bunching.
type MemoryPacer struct {
	gaps  Gaps
	clock clock.Clock

	mu   sync.Mutex
	next map[carrier.Code]time.Time
}

func NewMemoryPacer(gaps Gaps, c clock.Clock) *MemoryPacer {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryPacer{gaps: gaps, clock: c, next: make(map[carrier.Code]time.Time)}
}

func (p *MemoryPacer) Wait(ctx context.Context, code carrier.Code) error {
	gap := p.gaps.For(code)
	if gap <= 0 {
		return ctx.Err()
	}

	p.mu.Lock()
	now := p.clock.Now()
	slot := now
	if next, ok := p.next[code]; ok && next.After(now) {
		slot = next
	}
	reserved := slot.Add(gap)
	p.next[code] = reserved
	p.mu.Unlock()

	if err := p.clock.Sleep(ctx, slot.Sub(now)); err != nil {
		// Hand an abandoned slot back unless a later caller already queued behind it.
		p.mu.Lock()
		if p.next[code].Equal(reserved) {
			p.next[code] = slot
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
	Reserve(ctx context.Context, key string, gap time.Duration) (time.Duration, error)
}

// RedisPacer shares spacing and per-minute budgets between worker processes.
// When Redis is unreachable it degrades to the in-process pacer.
type RedisPacer struct {
	rl        Limiter
	gaps      Gaps
	perMinute map[carrier.Code]int64
	clock     clock.Clock
	fallback  *MemoryPacer
}

func NewRedisPacer(rl Limiter, gaps Gaps, perMinute map[carrier.Code]int64, c clock.Clock) *RedisPacer {
	if c == nil {
		c = clock.Real{}
	}
	return &RedisPacer{rl: rl, gaps: gaps, perMinute: perMinute, clock: c, fallback: NewMemoryPacer(gaps, c)}
}

func (p *RedisPacer) Wait(ctx context.Context, code carrier.Code) error {
	if err := p.waitBudget(ctx, code); err != nil {
		return err
	}

	gap := p.gaps.For(code)
	for {
		wait, err := p.rl.Reserve(ctx, "pace:carrier:"+string(code), gap)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("redis pacer unavailable, pacing locally", "carrier", string(code), "error", err.Error())
			return p.fallback.Wait(ctx, code)
		}
		if wait == 0 {
			return nil
		}
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (p *RedisPacer) waitBudget(ctx context.Context, code carrier.Code) error {
	limit := p.perMinute[code]
	if limit <= 0 {
		return nil
	}
	for {
		now := p.clock.Now()
		key := fmt.Sprintf("rl:carrier:%s:%s", code, now.Format("200601021504"))
		allowed, n, err := p.rl.Allow(ctx, key, limit, 70*time.Second)
		if err != nil {
			slog.Warn("carrier budget check failed", "carrier", string(code), "error", err.Error())
			return nil
		}
		if allowed {
			return nil
		}
		slog.Warn("carrier budget exhausted", "carrier", string(code), "count", n)
		if err := p.clock.Sleep(ctx, now.Truncate(time.Minute).Add(time.Minute).Sub(now)); err != nil {
			return err
		}
	}
}
