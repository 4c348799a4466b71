package carrier

import (
	"context"
	"sort"
	"strings"

	"github.com/BearBump/TrackHub/internal/models"
)

// Code identifies one of the supported carriers.
type Code string

const (
	UPS   Code = "UPS"
	DHL   Code = "DHL"
	SDA   Code = "SDA"
	BRT   Code = "BRT"
	FedEx Code = "FEDEX"
	TNT   Code = "TNT"
)

// All lists the supported carriers in dispatch order.
var All = []Code{UPS, DHL, SDA, BRT, FedEx, TNT}

var aliases = map[string]Code{
	"UPS":   UPS,
	"DHL":   DHL,
	"SDA":   SDA,
	"BRT":   BRT,
	"FEDEX": FedEx,
	"FED":   FedEx,
	"TNT":   TNT,
}

// ParseCode maps a stored carrier tag (case-insensitive, aliases allowed) to a Code.
func ParseCode(s string) (Code, bool) {
	c, ok := aliases[strings.ToUpper(strings.TrimSpace(s))]
	return c, ok
}

// RawPayload is a carrier-native response. Only the normalizer of the
// same carrier knows its concrete type.
type RawPayload interface {
	Carrier() Code
}

// Adapter fetches the raw tracking payload for one tracking number.
// Implementations return *Error values and never retry.
type Adapter interface {
	Track(ctx context.Context, trackingNumber string) (RawPayload, error)
}

// Normalizer converts a payload into events sorted most recent first.
type Normalizer func(p RawPayload) ([]models.Event, error)

type Provider struct {
	Adapter   Adapter
	Normalize Normalizer
}

// Registry is the closed set of providers known to the process.
type Registry struct {
	providers map[Code]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[Code]Provider, len(All))}
}

func (r *Registry) Register(code Code, p Provider) *Registry {
	r.providers[code] = p
	return r
}

func (r *Registry) Lookup(code Code) (Provider, bool) {
	p, ok := r.providers[code]
	return p, ok && p.Adapter != nil && p.Normalize != nil
}

// Codes returns the registered carriers in dispatch order.
func (r *Registry) Codes() []Code {
	out := make([]Code, 0, len(r.providers))
	for _, c := range All {
		if _, ok := r.Lookup(c); ok {
			out = append(out, c)
		}
	}
	return out
}

// Tags returns every stored carrier tag, aliases included, that selects one
// of the registered carriers. Used to scope database queries.
func (r *Registry) Tags() []string {
	var out []string
	for _, c := range r.Codes() {
		for tag, code := range aliases {
			if code == c {
				out = append(out, tag)
			}
		}
	}
	sort.Strings(out)
	return out
}
