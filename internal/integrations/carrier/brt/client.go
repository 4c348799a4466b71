package brt

import (
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
	BaseURL  string
	UserID   string
	Password string
	Timeout  time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.brt.it/rest/v1/tracking"
	}
	return &Client{cfg: cfg, httpc: carrier.NewHTTPClient(cfg.Timeout)}
}

type envelope struct {
	Response Response `json:"ttParcelIdResponse"`
}

// Response is the ttParcelIdResponse object.
type Response struct {
	Esito            *int `json:"esito"`
	ExecutionMessage struct {
		Code     int    `json:"code"`
		Severity string `json:"severity"`
		CodeDesc string `json:"codeDesc"`
		Message  string `json:"message"`
	} `json:"executionMessage"`
	Bolla struct {
		DatiConsegna Delivery `json:"dati_consegna"`
	} `json:"bolla"`
	Events []struct {
		Event Event `json:"evento"`
	} `json:"lista_eventi"`
}

type Delivery struct {
	Date      string `json:"data_consegna_merce"`
	Time      string `json:"ora_consegna_merce"`
	Recipient string `json:"firmatario_consegna"`
}

type Event struct {
	Date        string `json:"data"`
	Time        string `json:"ora"`
	ID          string `json:"id"`
	Description string `json:"descrizione"`
	Branch      string `json:"filiale"`
}

func (*Response) Carrier() carrier.Code { return carrier.BRT }

var (
	notFoundCodes = map[int]bool{-3: true, -7: true}
	authCodes     = map[int]bool{-11: true, -12: true}
)

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/parcelID/" + url.PathEscape(trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, carrier.Transient(carrier.BRT, errors.Wrap(err, "new request"))
	}
	req.Header.Set("userID", c.cfg.UserID)
	req.Header.Set("password", c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	raw, err := carrier.Do(c.httpc, carrier.BRT, req)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, carrier.Malformed(carrier.BRT, errors.Wrap(err, "decode"))
	}
	r := env.Response

	code := r.ExecutionMessage.Code
	if code == 0 && r.Esito != nil {
		code = *r.Esito
	}
	if code < 0 {
		cause := errors.Errorf("brt code %d: %s", code, carrier.FirstNonEmpty(r.ExecutionMessage.Message, r.ExecutionMessage.CodeDesc))
		switch {
		case notFoundCodes[code]:
			return nil, carrier.NotFound(carrier.BRT, cause)
		case authCodes[code]:
			return nil, carrier.AuthenticationFailed(carrier.BRT, cause)
		}
		return nil, carrier.Malformed(carrier.BRT, cause)
	}
	return &r, nil
}
