package ups

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/carrier"
	"github.com/pkg/errors"
)

type Config struct {
	BaseURL  string
	License  string
	Username string
	Password string
	Timeout  time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://onlinetools.ups.com/"
	}
	return &Client{cfg: cfg, httpc: carrier.NewHTTPClient(cfg.Timeout)}
}

type accessRequest struct {
	XMLName  xml.Name `xml:"AccessRequest"`
	Lang     string   `xml:"xml:lang,attr"`
	License  string   `xml:"AccessLicenseNumber"`
	UserID   string   `xml:"UserId"`
	Password string   `xml:"Password"`
}

type trackRequest struct {
	XMLName xml.Name `xml:"TrackRequest"`
	Lang    string   `xml:"xml:lang,attr"`
	Request struct {
		CustomerContext string `xml:"TransactionReference>CustomerContext"`
		RequestAction   string `xml:"RequestAction"`
		RequestOption   string `xml:"RequestOption"`
	} `xml:"Request"`
	TrackingNumber string `xml:"TrackingNumber"`
}

// Response is the TrackResponse document.
type Response struct {
	XMLName  xml.Name `xml:"TrackResponse"`
	Response struct {
		StatusCode        string    `xml:"ResponseStatusCode"`
		StatusDescription string    `xml:"ResponseStatusDescription"`
		Error             *apiError `xml:"Error"`
	} `xml:"Response"`
	Shipment struct {
		Packages []Package `xml:"Package"`
	} `xml:"Shipment"`
}

type apiError struct {
	Severity    string `xml:"ErrorSeverity"`
	Code        string `xml:"ErrorCode"`
	Description string `xml:"ErrorDescription"`
}

type Package struct {
	TrackingNumber string     `xml:"TrackingNumber"`
	Activities     []Activity `xml:"Activity"`
}

type Activity struct {
	Address struct {
		City              string `xml:"City"`
		StateProvinceCode string `xml:"StateProvinceCode"`
		CountryCode       string `xml:"CountryCode"`
	} `xml:"ActivityLocation>Address"`
	Status struct {
		Type codeDesc `xml:"StatusType"`
		Code codeDesc `xml:"StatusCode"`
	} `xml:"Status"`
	Date string `xml:"Date"`
	Time string `xml:"Time"`
}

type codeDesc struct {
	Code        string `xml:"Code"`
	Description string `xml:"Description"`
}

func (*Response) Carrier() carrier.Code { return carrier.UPS }

var (
	notFoundCodes = map[string]bool{"151018": true, "151019": true, "151044": true, "151045": true}
	authCodes     = map[string]bool{"250002": true, "250003": true, "250004": true, "250005": true}
)

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	body, err := c.buildRequest(trackingNumber)
	if err != nil {
		return nil, carrier.Malformed(carrier.UPS, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/ups.app/xml/Track"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, carrier.Transient(carrier.UPS, errors.Wrap(err, "new request"))
	}
	req.Header.Set("Content-Type", "application/xml")

	raw, err := carrier.Do(c.httpc, carrier.UPS, req)
	if err != nil {
		return nil, err
	}

	var r Response
	if err := xml.Unmarshal(raw, &r); err != nil {
		return nil, carrier.Malformed(carrier.UPS, errors.Wrap(err, "decode"))
	}
	if r.Response.StatusCode == "1" {
		return &r, nil
	}
	if e := r.Response.Error; e != nil {
		cause := errors.Errorf("ups error %s: %s", e.Code, e.Description)
		switch {
		case notFoundCodes[e.Code]:
			return nil, carrier.NotFound(carrier.UPS, cause)
		case authCodes[e.Code]:
			return nil, carrier.AuthenticationFailed(carrier.UPS, cause)
		case strings.EqualFold(e.Severity, "Transient"):
			return nil, carrier.Transient(carrier.UPS, cause)
		}
		return nil, carrier.Malformed(carrier.UPS, cause)
	}
	return nil, carrier.Malformed(carrier.UPS, errors.Errorf("response status %q", r.Response.StatusCode))
}

func (c *Client) buildRequest(trackingNumber string) ([]byte, error) {
	access := accessRequest{
		Lang:     "en-US",
		License:  c.cfg.License,
		UserID:   c.cfg.Username,
		Password: c.cfg.Password,
	}
	track := trackRequest{Lang: "en-US", TrackingNumber: trackingNumber}
	track.Request.CustomerContext = trackingNumber
	track.Request.RequestAction = "Track"
	track.Request.RequestOption = "activity"

	var buf bytes.Buffer
	for _, doc := range []any{access, track} {
		buf.WriteString(xml.Header)
		b, err := xml.Marshal(doc)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
