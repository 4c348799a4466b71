package tnt

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
	BaseURL   string
	Customer  string
	User      string
	Password  string
	AccountNo string
	LangID    string
	Timeout   time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.mytnt.it/XMLServices"
	}
	if cfg.LangID == "" {
		cfg.LangID = "IT"
	}
	return &Client{cfg: cfg, httpc: carrier.NewHTTPClient(cfg.Timeout)}
}

type document struct {
	XMLName     xml.Name `xml:"Document"`
	Application string   `xml:"Application"`
	Version     string   `xml:"Version"`
	Login       login    `xml:"Login"`
	Search      search   `xml:"SearchCriteria"`
	Level       int      `xml:"SearchParameters>Level"`
}

type login struct {
	Customer string `xml:"Customer"`
	User     string `xml:"User"`
	Password string `xml:"Password"`
	LangID   string `xml:"LangID"`
}

type search struct {
	ConNo     string `xml:"ConNo"`
	AccountNo string `xml:"AccountNo,omitempty"`
}

// Response accepts any root element; TNT has answered with both
// Document and TrackResponse over time.
type Response struct {
	XMLName      xml.Name
	ErrorMessage string        `xml:"ErrorDetails>ErrorMessage"`
	Consignments []Consignment `xml:"Consignment"`
}

type Consignment struct {
	ConNo      string   `xml:"ConNo"`
	StatusData []Status `xml:"StatusData"`
	Activity   []Status `xml:"Activity"`
}

// Status holds a StatusData or Activity element; the two use different
// tag names for the same facts.
type Status struct {
	StatusCode        string `xml:"StatusCode"`
	Code              string `xml:"Code"`
	StatusDescription string `xml:"StatusDescription"`
	Description       string `xml:"Description"`
	LocalEventDate    string `xml:"LocalEventDate"`
	Date              string `xml:"Date"`
	LocalEventTime    string `xml:"LocalEventTime"`
	Time              string `xml:"Time"`
	Depot             string `xml:"Depot"`
	DepotName         string `xml:"DepotName"`
}

func (*Response) Carrier() carrier.Code { return carrier.TNT }

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	body, err := xml.Marshal(document{
		Application: "MYTRK",
		Version:     "3.0",
		Login: login{
			Customer: c.cfg.Customer,
			User:     c.cfg.User,
			Password: c.cfg.Password,
			LangID:   c.cfg.LangID,
		},
		Search: search{ConNo: trackingNumber, AccountNo: c.cfg.AccountNo},
		Level:  1,
	})
	if err != nil {
		return nil, carrier.Malformed(carrier.TNT, errors.Wrap(err, "encode request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return nil, carrier.Transient(carrier.TNT, errors.Wrap(err, "new request"))
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	raw, err := carrier.Do(c.httpc, carrier.TNT, req)
	if err != nil {
		return nil, err
	}

	var r Response
	if err := xml.Unmarshal(raw, &r); err != nil {
		return nil, carrier.Malformed(carrier.TNT, errors.Wrap(err, "decode"))
	}
	if msg := strings.TrimSpace(r.ErrorMessage); msg != "" {
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "login") || strings.Contains(lower, "password") {
			return nil, carrier.AuthenticationFailed(carrier.TNT, errors.New(msg))
		}
		return nil, carrier.Malformed(carrier.TNT, errors.New(msg))
	}
	if len(r.Consignments) == 0 {
		return nil, carrier.NotFound(carrier.TNT, errors.Errorf("no consignment for %s", trackingNumber))
	}
	return &r, nil
}
