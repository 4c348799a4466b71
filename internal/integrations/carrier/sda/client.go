package sda

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/pkg/errors"
)

type Config struct {
	AuthURL  string
	BaseURL  string
	ClientID string
	SecretID string
	Scope    string
	Timeout  time.Duration
	// TokenSkew is how long before expiry a cached token is refreshed.
	TokenSkew time.Duration
}

type Client struct {
	cfg    Config
	httpc  *http.Client
	tokens *carrier.TokenCache
	now    func() time.Time
}

func New(cfg Config) *Client {
	if cfg.TokenSkew <= 0 {
		cfg.TokenSkew = 5 * time.Minute
	}
	c := &Client{cfg: cfg, httpc: carrier.NewHTTPClient(cfg.Timeout), now: time.Now}
	c.tokens = carrier.NewTokenCache(c.fetchToken, cfg.TokenSkew, func() time.Time { return c.now() })
	return c
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	ClientID  string `json:"clientId"`
	SecretID  string `json:"secretId"`
	Scope     string `json:"scope"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	AccessTokenCamel string `json:"accessToken"`
	Token            string `json:"token"`
	ExpiresIn        int64  `json:"expires_in"`
}

// Payload is the shipment matching the requested waybill.
type Payload struct {
	Shipment Shipment
}

func (*Payload) Carrier() carrier.Code { return carrier.SDA }

type trackingResponse struct {
	Return struct {
		Outcome  string     `json:"outcome"`
		Code     int        `json:"code"`
		Messages []message  `json:"messages"`
		Shipment []Shipment `json:"shipment"`
	} `json:"return"`
}

type message struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type Shipment struct {
	WaybillNumber string     `json:"waybillNumber"`
	Tracking      []Tracking `json:"tracking"`
}

type Tracking struct {
	Data              string `json:"data"`
	Status            string `json:"status"`
	Phase             string `json:"phase"`
	StatusDescription string `json:"statusDescription"`
	OfficeDescription string `json:"officeDescription"`
}

func (c *Client) fetchToken(ctx context.Context) (carrier.Token, error) {
	b, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		ClientID:  c.cfg.ClientID,
		SecretID:  c.cfg.SecretID,
		Scope:     c.cfg.Scope,
	})
	if err != nil {
		return carrier.Token{}, carrier.Malformed(carrier.SDA, errors.Wrap(err, "encode token request"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(b))
	if err != nil {
		return carrier.Token{}, carrier.Transient(carrier.SDA, errors.Wrap(err, "new token request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POSTE_clientID", c.cfg.ClientID)

	raw, err := carrier.Do(c.httpc, carrier.SDA, req)
	if err != nil {
		if ce, ok := carrier.AsError(err); ok && !ce.Kind.Retryable() {
			return carrier.Token{}, carrier.AuthenticationFailed(carrier.SDA, errors.Wrap(ce.Cause, "token"))
		}
		return carrier.Token{}, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return carrier.Token{}, carrier.Malformed(carrier.SDA, errors.Wrap(err, "decode token"))
	}
	tok := carrier.FirstNonEmpty(tr.AccessToken, tr.AccessTokenCamel, tr.Token)
	if tok == "" {
		return carrier.Token{}, carrier.AuthenticationFailed(carrier.SDA, errors.New("empty access token"))
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return carrier.Token{Value: tok, ExpiresAt: c.now().Add(time.Duration(expiresIn) * time.Second)}, nil
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("waybillNumber", trackingNumber)
	q.Set("lastTracingState", "N")
	q.Set("statusDescription", "E")
	q.Set("customerType", "DQ")
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/tracking?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, carrier.Transient(carrier.SDA, errors.Wrap(err, "new request"))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("POSTE_clientID", c.cfg.ClientID)
	req.Header.Set("Accept", "application/json")

	raw, err := carrier.Do(c.httpc, carrier.SDA, req)
	if err != nil {
		if carrier.IsKind(err, carrier.KindAuthenticationFailed) {
			c.tokens.Invalidate()
		}
		return nil, err
	}

	var r trackingResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, carrier.Malformed(carrier.SDA, errors.Wrap(err, "decode"))
	}
	for _, s := range r.Return.Shipment {
		if strings.EqualFold(strings.TrimSpace(s.WaybillNumber), trackingNumber) {
			if !strings.EqualFold(r.Return.Outcome, "OK") || r.Return.Code != 0 {
				break
			}
			return &Payload{Shipment: s}, nil
		}
	}

	cause := errors.Errorf("outcome=%s code=%d%s", r.Return.Outcome, r.Return.Code, describe(r.Return.Messages))
	if strings.EqualFold(r.Return.Outcome, "OK") || len(r.Return.Shipment) == 0 {
		return nil, carrier.NotFound(carrier.SDA, cause)
	}
	return nil, carrier.Malformed(carrier.SDA, cause)
}

func describe(msgs []message) string {
	var parts []string
	for _, m := range msgs {
		parts = append(parts, carrier.FirstNonEmpty(m.Description, m.Code))
	}
	if len(parts) == 0 {
		return ""
	}
	return ": " + strings.Join(parts, "; ")
}
