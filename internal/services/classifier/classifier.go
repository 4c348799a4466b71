package classifier

import (
	"strings"
	"sync/atomic"

	"github.com/BearBump/TrackHub/internal/models"
)

// DefaultKeywords mark a display status as delivered. Matching is a
// case-insensitive substring test, so stems cover gender and number.
var DefaultKeywords = []string{
	// it
	"consegnat", "ricevuta dal destinatario", "firmat",
	// en
	"delivered", "received by", "signed for", "delivery complete",
	// fr
	"livré", "livree", "reçu par", "remis au destinataire",
	// pt
	"entregue", "recebido por", "assinado por",
}

// Classifier maps resolved display text to a delivery state. It never looks
// at carrier codes.
type Classifier struct {
	keywords atomic.Pointer[[]string]
}

func New(keywords []string) *Classifier {
	c := &Classifier{}
	c.SetKeywords(keywords)
	return c
}

// SetKeywords replaces the keyword set; an empty set restores DefaultKeywords.
func (c *Classifier) SetKeywords(keywords []string) {
	kw := normalize(keywords)
	if len(kw) == 0 {
		kw = normalize(DefaultKeywords)
	}
	c.keywords.Store(&kw)
}

func (c *Classifier) Keywords() []string {
	kw := *c.keywords.Load()
	out := make([]string, len(kw))
	copy(out, kw)
	return out
}

func (c *Classifier) Classify(displayStatus string) models.DeliveryState {
	s := strings.ToLower(strings.TrimSpace(displayStatus))
	if s == "" {
		return models.InTransit
	}
	for _, k := range *c.keywords.Load() {
		if strings.Contains(s, k) {
			return models.Delivered
		}
	}
	return models.InTransit
}

func normalize(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
