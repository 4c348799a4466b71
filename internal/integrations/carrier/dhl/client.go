package dhl

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
	SiteID   string
	Password string
	Timeout  time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client
	now   func() time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://xmlpi-ea.dhl.com/XMLShippingServlet"
	}
	return &Client{cfg: cfg, httpc: carrier.NewHTTPClient(cfg.Timeout), now: time.Now}
}

type knownTrackingRequest struct {
	XMLName   xml.Name `xml:"req:KnownTrackingRequest"`
	XmlnsReq  string   `xml:"xmlns:req,attr"`
	XmlnsXsi  string   `xml:"xmlns:xsi,attr"`
	Schema    string   `xml:"xsi:schemaLocation,attr"`
	Header    header   `xml:"Request>ServiceHeader"`
	Language  string   `xml:"LanguageCode"`
	AWBNumber string   `xml:"AWBNumber"`
	Level     string   `xml:"LevelOfDetails"`
}

type header struct {
	MessageTime      string `xml:"MessageTime"`
	MessageReference string `xml:"MessageReference"`
	SiteID           string `xml:"SiteID"`
	Password         string `xml:"Password"`
}

// Response covers both TrackingResponse and ErrorResponse documents.
type Response struct {
	XMLName  xml.Name
	Response struct {
		Status status `xml:"Status"`
	} `xml:"Response"`
	AWBInfo []AWBInfo `xml:"AWBInfo"`
}

type status struct {
	ActionStatus string      `xml:"ActionStatus"`
	Conditions   []condition `xml:"Condition"`
}

type condition struct {
	Code string `xml:"ConditionCode"`
	Data string `xml:"ConditionData"`
}

type AWBInfo struct {
	AWBNumber string          `xml:"AWBNumber"`
	Status    status          `xml:"Status"`
	Events    []ShipmentEvent `xml:"ShipmentInfo>ShipmentEvent"`
}

type ShipmentEvent struct {
	Date         string `xml:"Date"`
	Time         string `xml:"Time"`
	EventCode    string `xml:"ServiceEvent>EventCode"`
	Description  string `xml:"ServiceEvent>Description"`
	Signatory    string `xml:"Signatory"`
	ServiceArea  string `xml:"ServiceArea>Description"`
	ServiceAreaC string `xml:"ServiceArea>ServiceAreaCode"`
}

func (*Response) Carrier() carrier.Code { return carrier.DHL }

var (
	notFoundCodes = map[string]bool{"101": true, "104": true}
	authCodes     = map[string]bool{"111": true, "112": true, "113": true}
)

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.RawPayload, error) {
	body, err := c.buildRequest(trackingNumber)
	if err != nil {
		return nil, carrier.Malformed(carrier.DHL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, carrier.Transient(carrier.DHL, errors.Wrap(err, "new request"))
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	raw, err := carrier.Do(c.httpc, carrier.DHL, req)
	if err != nil {
		return nil, err
	}

	var r Response
	if err := xml.Unmarshal(raw, &r); err != nil {
		return nil, carrier.Malformed(carrier.DHL, errors.Wrap(err, "decode"))
	}
	if err := checkConditions(r); err != nil {
		return nil, err
	}
	if len(r.AWBInfo) == 0 {
		return nil, carrier.Malformed(carrier.DHL, errors.New("no AWBInfo in response"))
	}
	return &r, nil
}

func checkConditions(r Response) error {
	statuses := []status{r.Response.Status}
	for _, a := range r.AWBInfo {
		statuses = append(statuses, a.Status)
	}
	for _, st := range statuses {
		for _, cond := range st.Conditions {
			cause := errors.Errorf("dhl condition %s: %s", cond.Code, strings.TrimSpace(cond.Data))
			switch {
			case notFoundCodes[cond.Code]:
				return carrier.NotFound(carrier.DHL, cause)
			case authCodes[cond.Code]:
				return carrier.AuthenticationFailed(carrier.DHL, cause)
			default:
				return carrier.Malformed(carrier.DHL, cause)
			}
		}
		if strings.EqualFold(strings.TrimSpace(st.ActionStatus), "No Shipments Found") {
			return carrier.NotFound(carrier.DHL, errors.New(st.ActionStatus))
		}
	}
	return nil
}

func (c *Client) buildRequest(trackingNumber string) ([]byte, error) {
	now := c.now()
	req := knownTrackingRequest{
		XmlnsReq: "http://www.dhl.com",
		XmlnsXsi: "http://www.w3.org/2001/XMLSchema-instance",
		Schema:   "http://www.dhl.com track-req.xsd",
		Header: header{
			MessageTime:      now.Format("2006-01-02T15:04:05.000-07:00"),
			MessageReference: messageReference(now),
			SiteID:           c.cfg.SiteID,
			Password:         c.cfg.Password,
		},
		Language:  "en",
		AWBNumber: trackingNumber,
		Level:     "ALL_CHECK_POINTS",
	}
	b, err := xml.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	return append([]byte(xml.Header), b...), nil
}

// messageReference must be 28 to 32 characters long.
func messageReference(now time.Time) string {
	ref := now.Format("20060102150405.000000000")
	ref = strings.ReplaceAll(ref, ".", "")
	for len(ref) < 30 {
		ref += "0"
	}
	return ref[:30]
}
