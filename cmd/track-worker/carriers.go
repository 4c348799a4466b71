package main

import (
	"log/slog"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/BearBump/TrackHub/internal/integrations/carrier/brt"
	"github.com/BearBump/TrackHub/internal/integrations/carrier/dhl"
	"github.com/BearBump/TrackHub/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackHub/internal/integrations/carrier/fedex"
	"github.com/BearBump/TrackHub/internal/integrations/carrier/sda"
	"github.com/BearBump/TrackHub/internal/integrations/carrier/tnt"
	"github.com/BearBump/TrackHub/internal/integrations/carrier/ups"
	"github.com/BearBump/TrackHub/internal/services/sweep"
)

func carrierConfigs(cfg *config.Config) map[carrier.Code]config.CarrierConfig {
	return map[carrier.Code]config.CarrierConfig{
		carrier.UPS:   cfg.Carriers.UPS,
		carrier.DHL:   cfg.Carriers.DHL,
		carrier.SDA:   cfg.Carriers.SDA,
		carrier.BRT:   cfg.Carriers.BRT,
		carrier.FedEx: cfg.Carriers.FedEx,
		carrier.TNT:   cfg.Carriers.TNT,
	}
}

func carrierLocation(cfg *config.Config) *time.Location {
	loc, err := time.LoadLocation(cfg.TrackHub.CarrierTimezone)
	if err != nil {
		slog.Warn("unknown carrier timezone, using default", "timezone", cfg.TrackHub.CarrierTimezone, "error", err.Error())
		return carrier.DefaultLocation()
	}
	return loc
}

func liveProvider(code carrier.Code, cc config.CarrierConfig, loc *time.Location) carrier.Provider {
	switch code {
	case carrier.UPS:
		return carrier.Provider{
			Adapter: ups.New(ups.Config{
				BaseURL: cc.BaseURL, License: cc.License, Username: cc.Username,
				Password: cc.Password, Timeout: cc.Timeout(),
			}),
			Normalize: ups.Normalizer(loc),
		}
	case carrier.DHL:
		return carrier.Provider{
			Adapter: dhl.New(dhl.Config{
				BaseURL: cc.BaseURL, SiteID: cc.SiteID, Password: cc.Password, Timeout: cc.Timeout(),
			}),
			Normalize: dhl.Normalizer(loc),
		}
	case carrier.SDA:
		return carrier.Provider{
			Adapter: sda.New(sda.Config{
				AuthURL: cc.AuthURL, BaseURL: cc.BaseURL, ClientID: cc.ClientID,
				SecretID: cc.ClientSecret, Scope: cc.Scope, Timeout: cc.Timeout(),
			}),
			Normalize: sda.Normalizer(loc),
		}
	case carrier.BRT:
		return carrier.Provider{
			Adapter: brt.New(brt.Config{
				BaseURL: cc.BaseURL, UserID: cc.Username, Password: cc.Password, Timeout: cc.Timeout(),
			}),
			Normalize: brt.Normalizer(loc),
		}
	case carrier.FedEx:
		return carrier.Provider{
			Adapter: fedex.New(fedex.Config{
				BaseURL: cc.BaseURL, ClientID: cc.ClientID, ClientSecret: cc.ClientSecret, Timeout: cc.Timeout(),
			}),
			Normalize: fedex.Normalizer(loc),
		}
	case carrier.TNT:
		return carrier.Provider{
			Adapter: tnt.New(tnt.Config{
				BaseURL: cc.BaseURL, Customer: cc.Customer, User: cc.Username, Password: cc.Password,
				AccountNo: cc.AccountNo, LangID: cc.LangID, Timeout: cc.Timeout(),
			}),
			Normalize: tnt.Normalizer(loc),
		}
	}
	return carrier.Provider{}
}

// buildRegistry registers every enabled carrier. Carriers marked simulate
// are served by the deterministic fake adapter.
func buildRegistry(cfg *config.Config) *carrier.Registry {
	loc := carrierLocation(cfg)
	confs := carrierConfigs(cfg)

	reg := carrier.NewRegistry()
	for _, code := range carrier.All {
		cc := confs[code]
		if cc.Disabled {
			continue
		}
		p := liveProvider(code, cc, loc)
		if cc.Simulate {
			p = carrier.Provider{Adapter: fake.New(code, time.Now), Normalize: fake.Normalize}
		}
		p.Adapter = carrier.Instrument(code, p.Adapter)
		reg.Register(code, p)
		slog.Info("carrier registered", "carrier", string(code), "simulate", cc.Simulate)
	}
	return reg
}

func pacingGaps(cfg *config.Config) sweep.Gaps {
	gaps := sweep.Gaps{Default: cfg.Sweep.DefaultMinDelay(), PerCarrier: map[carrier.Code]time.Duration{}}
	for code, cc := range carrierConfigs(cfg) {
		if d := cc.MinDelay(); d > 0 {
			gaps.PerCarrier[code] = d
		}
	}
	return gaps
}

func perMinuteBudgets(cfg *config.Config) map[carrier.Code]int64 {
	out := map[carrier.Code]int64{}
	for code, cc := range carrierConfigs(cfg) {
		if cc.RateLimitPerMinute > 0 {
			out[code] = int64(cc.RateLimitPerMinute)
		}
	}
	return out
}

func sweepConfig(cfg *config.Config) sweep.Config {
	maxRetries := 5
	if cfg.Sweep.MaxRetries != nil {
		maxRetries = *cfg.Sweep.MaxRetries
	}
	return sweep.Config{
		Interval:       cfg.Sweep.Interval(),
		BatchSize:      cfg.Sweep.BatchSize,
		Lookback:       cfg.Sweep.Lookback(),
		RetryBaseDelay: cfg.Sweep.RetryBaseDelay(),
		MaxRetries:     maxRetries,
		PanicCooldown:  cfg.Sweep.PanicCooldown(),
		StopTimeout:    cfg.Sweep.StopTimeout(),
	}
}
