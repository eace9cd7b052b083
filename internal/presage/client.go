// Package presage is a client for the Presage Physiology API: it uploads a
// recorded face video through the multipart upload handshake and polls for
// the derived vitals.
package presage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.physiology.presagetech.com"

	// MaxChunkSize is the slice size the service assumes when it hands out
	// upload slots.
	MaxChunkSize = 5 * 1024 * 1024

	apiKeyHeader = "x-api-key"
	maxErrorBody = 4096
)

// Video is the artifact accepted by the uploader.
type Video interface {
	Bytes() []byte
	ContentType() string
}

// Observer receives client telemetry. A nil Observer is allowed.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes int64, err error)
	RecordChunk(partNumber int, sizeBytes int, err error)
	RecordRetrieve(outcome OutcomeKind)
	RecordPoll(duration time.Duration, attempts int, err error)
}

// HTTPClient talks to the analysis API over HTTP.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	chunkSize  int
	httpClient *http.Client
	observer   Observer
	logger     *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithChunkSize overrides MaxChunkSize. Only useful against test servers.
func WithChunkSize(n int) Option {
	return func(hc *HTTPClient) {
		if n > 0 {
			hc.chunkSize = n
		}
	}
}

// WithObserver reports upload and retrieve events to o.
func WithObserver(o Observer) Option {
	return func(hc *HTTPClient) {
		hc.observer = o
	}
}

// NewHTTPClient returns a client for the analysis API at baseURL, or
// DefaultBaseURL when empty.
func NewHTTPClient(baseURL, apiKey string, logger *slog.Logger, opts ...Option) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		chunkSize: MaxChunkSize,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// postJSON sends payload to an API path and returns the status code and the
// response body. Bodies of non-2xx responses are truncated.
func (c *HTTPClient) postJSON(ctx context.Context, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if !isSuccess(resp.StatusCode) {
		reader = io.LimitReader(resp.Body, maxErrorBody)
	}
	respBody, err := io.ReadAll(reader)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
