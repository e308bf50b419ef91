package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/ericogr/weather-station/pkg/config"
	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/sensor"
)

const defaultTimeout = 10 * time.Second

// APIOutput sends each measurement as a JSON body to an HTTP endpoint.
type APIOutput struct {
	method  string
	url     string
	headers http.Header
	client  *http.Client
}

func NewAPI(cfg config.APIConfig) output.Output {
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	return &APIOutput{
		method:  method,
		url:     cfg.Host + cfg.Path,
		headers: buildHeaders(cfg.Headers),
		client:  &http.Client{Timeout: config.Seconds(cfg.TimeoutSeconds, defaultTimeout)},
	}
}

// buildHeaders merges the configured headers with the fixed JSON content
// type, which always wins.
func buildHeaders(extra map[string]string) http.Header {
	h := make(http.Header, len(extra)+1)
	for k, v := range extra {
		h.Set(k, v)
	}
	h.Set("Content-Type", "application/json")
	return h
}

func (a *APIOutput) Publish(ctx context.Context, m sensor.Measurement) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("api encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, a.method, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("api request: %w", err)
	}
	req.Header = a.headers.Clone()
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", a.method, a.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api %s %s: status %d", a.method, a.url, resp.StatusCode)
	}
	return nil
}

func (a *APIOutput) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
