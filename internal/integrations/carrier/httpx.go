package carrier

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const maxBodyBytes = 8 << 20

// NewHTTPClient returns a client with a bounded timeout and debug request logging.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &loggingRoundTripper{next: http.DefaultTransport},
	}
}

type loggingRoundTripper struct {
	next http.RoundTripper
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	attrs := []any{
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		slog.Debug("carrier http failed", append(attrs, "error", err.Error())...)
		return nil, err
	}
	slog.Debug("carrier http", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}

// Do sends req and reads the whole body. Transport failures become Transient,
// non-2xx statuses are mapped by CheckStatus.
func Do(httpc *http.Client, c Code, req *http.Request) ([]byte, error) {
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, Transient(c, errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if err := CheckStatus(c, resp, time.Now()); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, Transient(c, errors.Wrap(err, "read body"))
	}
	return body, nil
}

// CheckStatus maps an HTTP status to the adapter error taxonomy.
func CheckStatus(c Code, resp *http.Response, now time.Time) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := errors.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return AuthenticationFailed(c, cause)
	case resp.StatusCode == http.StatusNotFound:
		return NotFound(c, cause)
	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimited(c, ParseRetryAfter(resp.Header.Get("Retry-After"), now), cause)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return Transient(c, cause)
	default:
		return Malformed(c, cause)
	}
}

// ParseRetryAfter accepts delay-seconds or an HTTP date. Zero means no hint.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
