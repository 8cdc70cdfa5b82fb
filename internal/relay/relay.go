// Package relay executes a caller-described HTTP request and returns the
// upstream response whatever its status code.
package relay

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/georgeshao/api-relay/internal/apperr"
	"github.com/georgeshao/api-relay/pkg/types"
)

type Config struct {
	// Timeout bounds one outbound call. Zero leaves the transport default,
	// which has no overall deadline.
	Timeout time.Duration
	// RequestsPerSecond limits outbound calls process-wide. Zero disables it.
	RequestsPerSecond float64
	// MaxResponseBytes caps how much of an upstream body is read. Zero reads
	// everything.
	MaxResponseBytes int64
}

// Request describes one outbound call.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Params  types.Params
	Body    json.RawMessage
}

// Outcome is the upstream response. Body always holds valid JSON: the
// upstream body itself when it parses, otherwise the body as a JSON string.
type Outcome struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Body       json.RawMessage
	Duration   time.Duration
}

// Validate checks the preconditions for dispatching r.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return apperr.Validation("URL is required")
	}
	if strings.TrimSpace(r.Method) == "" {
		return apperr.Validation("Method is required")
	}
	return nil
}

// TargetURL returns the URL to dispatch. For GET requests every param is
// appended to the query in order, keeping repeated keys and any query the URL
// already has.
func TargetURL(rawURL, method string, params types.Params) (string, error) {
	if !strings.EqualFold(method, "GET") || len(params) == 0 {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(u.RawQuery)
	for _, p := range params {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	u.RawQuery = b.String()

	return u.String(), nil
}

func hasBody(method string) bool {
	switch method {
	case "GET", "HEAD":
		return false
	}
	return true
}
