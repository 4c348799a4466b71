package fedex

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
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	TokenSkew    time.Duration
}

type Client struct {
	cfg    Config
	httpc  *http.Client
	tokens *carrier.TokenCache
	now    func() time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://apis.fedex.com/"
	}
	if cfg.TokenSkew <= 0 {
		cfg.TokenSkew = time.Minute
	}
	c := &Client{cfg: cfg, httpc: carrier.NewHTTPClient(cfg.Timeout), now: time.Now}
	c.tokens = carrier.NewTokenCache(c.fetchToken, cfg.TokenSkew, func() time.Time { return c.now() })
	return c
}

// Response is the body of track/v1/trackingnumbers.
type Response struct {
	Output struct {
		CompleteTrackResults []struct {
			TrackingNumber string        `json:"trackingNumber"`
			TrackResults   []TrackResult `json:"trackResults"`
		} `json:"completeTrackResults"`
	} `json:"output"`
	Errors []apiError `json:"errors"`
}

type TrackResult struct {
	Error      *apiError   `json:"error"`
	ScanEvents []ScanEvent `json:"scanEvents"`
}

type ScanEvent struct {
	Date              string `json:"date"`
	EventType         string `json:"eventType"`
	EventDescription  string `json:"eventDescription"`
	DerivedStatusCode string `json:"derivedStatusCode"`
	DerivedStatus     string `json:"derivedStatus"`
	ScanLocation      struct {
		City                string `json:"city"`
		StateOrProvinceCode string `json:"stateOrProvinceCode"`
		CountryCode         string `json:"countryCode"`
	} `json:"scanLocation"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (*Response) Carrier() carrier.Code { return carrier.FedEx }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type trackRequest struct {
	IncludeDetailedScans bool           `json:"includeDetailedScans"`
	TrackingInfo         []trackingInfo `json:"trackingInfo"`
}

type trackingInfo struct {
	TrackingNumberInfo trackingNumberInfo `json:"trackingNumberInfo"`
}

type trackingNumberInfo struct {
	TrackingNumber string `json:"trackingNumber"`
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + path
}

func (c *Client) fetchToken(ctx context.Context) (carrier.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("oauth/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return carrier.Token{}, carrier.Transient(carrier.FedEx, errors.Wrap(err, "new token request"))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	raw, err := carrier.Do(c.httpc, carrier.FedEx, req)
	if err != nil {
		if ce, ok := carrier.AsError(err); ok && !ce.Kind.Retryable() {
			return carrier.Token{}, carrier.AuthenticationFailed(carrier.FedEx, errors.Wrap(ce.Cause, "token"))
		}
		return carrier.Token{}, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return carrier.Token{}, carrier.Malformed(carrier.FedEx, errors.Wrap(err, "decode token"))
	}
	if tr.AccessToken == "" {
		return carrier.Token{}, carrier.AuthenticationFailed(carrier.FedEx, errors.New("empty access token"))
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return carrier.Token{Value: tr.AccessToken, ExpiresAt: c.now().Add(time.Duration(expiresIn) * time.Second)}, nil
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(trackRequest{
		IncludeDetailedScans: true,
		TrackingInfo:         []trackingInfo{{TrackingNumberInfo: trackingNumberInfo{TrackingNumber: trackingNumber}}},
	})
	if err != nil {
		return nil, carrier.Malformed(carrier.FedEx, errors.Wrap(err, "encode request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("track/v1/trackingnumbers"), bytes.NewReader(b))
	if err != nil {
		return nil, carrier.Transient(carrier.FedEx, errors.Wrap(err, "new request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-locale", "en_US")
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := carrier.Do(c.httpc, carrier.FedEx, req)
	if err != nil {
		if carrier.IsKind(err, carrier.KindAuthenticationFailed) {
			c.tokens.Invalidate()
		}
		return nil, err
	}

	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, carrier.Malformed(carrier.FedEx, errors.Wrap(err, "decode"))
	}
	if len(r.Errors) > 0 {
		return nil, carrier.Malformed(carrier.FedEx, errors.Errorf("fedex error %s: %s", r.Errors[0].Code, r.Errors[0].Message))
	}

	var results, failed, notFound int
	var lastErr *apiError
	for _, ctr := range r.Output.CompleteTrackResults {
		for _, tr := range ctr.TrackResults {
			results++
			if tr.Error == nil || tr.Error.Code == "" {
				continue
			}
			failed++
			lastErr = tr.Error
			if strings.Contains(tr.Error.Code, "NOTFOUND") {
				notFound++
			}
		}
	}
	switch {
	case results == 0:
		return nil, carrier.Malformed(carrier.FedEx, errors.New("no track results"))
	case notFound == results:
		return nil, carrier.NotFound(carrier.FedEx, errors.Errorf("fedex error %s: %s", lastErr.Code, lastErr.Message))
	case failed == results:
		return nil, carrier.Malformed(carrier.FedEx, errors.Errorf("fedex error %s: %s", lastErr.Code, lastErr.Message))
	}
	return &r, nil
}
