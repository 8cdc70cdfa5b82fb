package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/georgeshao/api-relay/internal/apperr"
)

type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	maxBytes int64
	logger   zerolog.Logger
}

func NewClient(config Config, logger zerolog.Logger) *Client {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := int(config.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		http: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(limit, burst),
		maxBytes: config.MaxResponseBytes,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// Execute sends req once. Any HTTP status is a successful outcome; only a
// failure to obtain a response is an error.
func (c *Client) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))

	target, err := TargetURL(strings.TrimSpace(req.URL), method, req.Params)
	if err != nil {
		return nil, apperr.TransportFailure(err)
	}

	body, contentType, err := encodeBody(method, req.Body)
	if err != nil {
		return nil, apperr.Validation("Invalid request body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apperr.TransportFailure(err)
	}

	for k, v := range req.Headers {
		if strings.EqualFold(k, "Host") {
			httpReq.Host = v
			continue
		}
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.TransportFailure(err)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("url", target).Msg("relay transport failure")
		return nil, apperr.TransportFailure(err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if c.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, c.maxBytes)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperr.TransportFailure(fmt.Errorf("failed to read response body: %w", err))
	}

	outcome := &Outcome{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    flattenHeaders(resp.Header),
		Body:       decodeBody(raw),
		Duration:   time.Since(start),
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", outcome.Status).
		Str("size", humanize.Bytes(uint64(len(raw)))).
		Dur("duration", outcome.Duration).
		Msg("relayed request")

	return outcome, nil
}

// encodeBody returns the outbound body and the content type it implies. A
// JSON string is sent as its raw text; other JSON values are sent as JSON.
func encodeBody(method string, raw json.RawMessage) (io.Reader, string, error) {
	raw = bytes.TrimSpace(raw)
	if !hasBody(method) || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, "", nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, "", err
		}
		return strings.NewReader(s), "", nil
	}

	if !json.Valid(raw) {
		return nil, "", fmt.Errorf("body is not valid JSON")
	}
	return bytes.NewReader(raw), "application/json", nil
}

func decodeBody(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	// Plain text, HTML and empty bodies are returned as a JSON string.
	encoded, _ := json.Marshal(string(raw))
	return encoded
}

// statusText returns the upstream reason phrase, falling back to the standard
// text for the code.
func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}
