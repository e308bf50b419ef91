package community

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/ericogr/weather-station/pkg/config"
	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/sensor"
)

const defaultTimeout = 10 * time.Second

// X-PIN values identify the sensor kind on the receiving side.
const (
	PinParticulate = "1"
	PinClimate     = "11"
)

type dataValue struct {
	ValueType string  `json:"value_type"`
	Value     float64 `json:"value"`
}

type payload struct {
	SoftwareVersion  string      `json:"software_version"`
	SensorDataValues []dataValue `json:"sensordatavalues"`
}

type mapping struct {
	field     string
	valueType string
}

var (
	particulate = []mapping{{sensor.FieldPM10, "P1"}, {sensor.FieldPM25, "P2"}}
	climate     = []mapping{
		{sensor.FieldTemperatureCelsius, "temperature"},
		{sensor.FieldHumidity, "humidity"},
		{sensor.FieldPressure, "pressure"},
	}
)

// CommunityOutput pushes particulate and climate readings as two separate
// requests, each under its own sensor identity.
type CommunityOutput struct {
	url       string
	version   string
	pmID      string
	climateID string
	client    *http.Client
	logger    *zap.SugaredLogger
}

func NewCommunity(cfg config.CommunityConfig, logger *zap.SugaredLogger) output.Output {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	url := cfg.URL
	if url == "" {
		url = config.CommunityURL
	}
	return &CommunityOutput{
		url:       url,
		version:   cfg.SoftwareVersion,
		pmID:      cfg.PMSensorID,
		climateID: cfg.ClimateSensorID,
		client:    &http.Client{Timeout: config.Seconds(cfg.TimeoutSeconds, defaultTimeout)},
		logger:    logger,
	}
}

// Publish sends whichever of the two groups has values. A failure of one
// request does not stop the other; both failures are reported together.
func (c *CommunityOutput) Publish(ctx context.Context, m sensor.Measurement) error {
	var errs []error
	sent := 0
	for _, g := range []struct {
		name, pin, id string
		fields        []mapping
	}{
		{"particulate", PinParticulate, c.pmID, particulate},
		{"climate", PinClimate, c.climateID, climate},
	} {
		if g.id == "" {
			continue
		}
		values := collect(m, g.fields)
		if len(values) == 0 {
			continue
		}
		sent++
		if err := c.post(ctx, g.pin, g.id, values); err != nil {
			c.logger.Errorw("community push failed", "group", g.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", g.name, err))
			continue
		}
		c.logger.Debugw("community push sent", "group", g.name, "values", len(values))
	}
	if sent == 0 {
		return output.Skip("no community values")
	}
	return errors.Join(errs...)
}

func (c *CommunityOutput) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// collect keeps mapping order and drops absent or null fields.
func collect(m sensor.Measurement, fields []mapping) []dataValue {
	var out []dataValue
	for _, f := range fields {
		if v, ok := m.Get(f.field); ok {
			out = append(out, dataValue{ValueType: f.valueType, Value: v})
		}
	}
	return out
}

func (c *CommunityOutput) post(ctx context.Context, pin, id string, values []dataValue) error {
	body, err := json.Marshal(payload{SoftwareVersion: c.version, SensorDataValues: values})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-PIN", pin)
	req.Header.Set("X-Sensor", id)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
