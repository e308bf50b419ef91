package influx

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/sensor"
)

// DefaultMeasurement is used when none is configured.
const DefaultMeasurement = "weather_data"

// InfluxOutput writes each measurement as one point through a shared Client.
type InfluxOutput struct {
	client      *Client
	measurement string
}

func NewInflux(client *Client, measurement string) output.Output {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxOutput{client: client, measurement: measurement}
}

func (o *InfluxOutput) Publish(ctx context.Context, m sensor.Measurement) error {
	if !hasKnownField(m) {
		return output.Skip("no valid fields")
	}
	p := toPoint(o.measurement, m)
	if p == nil {
		return output.Skip("all fields are null")
	}
	return o.client.Write(ctx, p)
}

func (o *InfluxOutput) Close() error { return o.client.Close() }

func hasKnownField(m sensor.Measurement) bool {
	for _, f := range m.Fields {
		if sensor.IsKnownField(f.Name) {
			return true
		}
	}
	return false
}

// toPoint returns nil when no known field has a value.
func toPoint(measurement string, m sensor.Measurement) *write.Point {
	tags := map[string]string{}
	if m.SensorTempHum != "" {
		tags[sensor.TagTempHum] = m.SensorTempHum
	}
	if m.SensorAirQuality != "" {
		tags[sensor.TagAirQuality] = m.SensorAirQuality
	}
	fields := map[string]interface{}{}
	for _, f := range m.Fields {
		if f.Value != nil && sensor.IsKnownField(f.Name) {
			fields[f.Name] = *f.Value
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return influxdb2.NewPoint(measurement, tags, fields, m.Time())
}
