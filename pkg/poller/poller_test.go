package poller

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/output/console"
	"github.com/ericogr/weather-station/pkg/sensor"
)

type stubSensor struct {
	name   string
	role   sensor.Role
	fields []sensor.Field
	err    error
	panics bool
}

func (s *stubSensor) Name() string      { return s.name }
func (s *stubSensor) Role() sensor.Role { return s.role }
func (s *stubSensor) Close() error      { return nil }

func (s *stubSensor) Fields() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

func (s *stubSensor) Read() ([]sensor.Field, error) {
	if s.panics {
		panic("i2c bus gone")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.fields, nil
}

func climateStub() *stubSensor {
	return &stubSensor{name: "bme280", role: sensor.RoleClimate, fields: []sensor.Field{
		{Name: sensor.FieldTemperatureCelsius, Value: sensor.Value(21.5)},
		{Name: sensor.FieldHumidity, Value: sensor.Value(40)},
	}}
}

func airStub() *stubSensor {
	return &stubSensor{name: "sds011", role: sensor.RoleAirQuality, fields: []sensor.Field{
		{Name: sensor.FieldPM25, Value: sensor.Value(10.5)},
		{Name: sensor.FieldPM10, Value: sensor.Value(25)},
	}}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	got    []sensor.Measurement
	panics int
}

func (r *recordingDispatcher) Dispatch(_ context.Context, m sensor.Measurement) []output.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
	if r.panics > 0 {
		r.panics--
		panic("dispatcher bug")
	}
	return []output.Outcome{{Sink: output.ConsoleName, Status: output.Delivered}}
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type countingObserver struct {
	mu       sync.Mutex
	failures map[string]int
	cycles   int
}

func (c *countingObserver) ObserveSensorFailure(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[name]++
}

func (c *countingObserver) ObserveCycle(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles++
}

var fixedNow = func() time.Time { return time.Unix(1758292914, 0) }

func TestCycleMergesSensors(t *testing.T) {
	d := &recordingDispatcher{}
	p := New([]sensor.Sensor{climateStub(), airStub()}, d, time.Minute, WithClock(fixedNow))

	m, outcomes := p.Cycle(context.Background())
	if len(outcomes) != 1 || d.count() != 1 {
		t.Fatalf("outcomes=%v dispatches=%d", outcomes, d.count())
	}
	if m.Timestamp != 1758292914 || m.SensorTempHum != "bme280" || m.SensorAirQuality != "sds011" {
		t.Fatalf("measurement: %+v", m)
	}
	if v, ok := m.Get(sensor.FieldPM10); !ok || v != 25 {
		t.Fatalf("pm10: %v %v", v, ok)
	}
}

func TestSensorFailureDoesNotAbortCycle(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	obs := &countingObserver{failures: map[string]int{}}
	climate := climateStub()
	climate.err = errors.New("read timeout")
	d := &recordingDispatcher{}
	p := New([]sensor.Sensor{climate, airStub()}, d, time.Minute,
		WithClock(fixedNow), WithLogger(zap.New(core).Sugar()), WithObserver(obs))

	m, _ := p.Cycle(context.Background())
	if m.SensorTempHum != "" {
		t.Fatalf("failed sensor tagged: %+v", m)
	}
	if !m.Has(sensor.FieldTemperatureCelsius) {
		t.Fatalf("failed sensor fields should be present as null")
	}
	if _, ok := m.Get(sensor.FieldTemperatureCelsius); ok {
		t.Fatalf("failed sensor field should be null")
	}
	if v, ok := m.Get(sensor.FieldPM25); !ok || v != 10.5 {
		t.Fatalf("other sensor lost: %+v", m)
	}
	if logs.FilterMessage("sensor read failed").Len() != 1 {
		t.Fatalf("failure not logged")
	}
	if obs.failures["bme280"] != 1 || obs.cycles != 1 {
		t.Fatalf("observer: %+v", obs)
	}
}

func TestSensorPanicIsContained(t *testing.T) {
	air := airStub()
	air.panics = true
	d := &recordingDispatcher{}
	p := New([]sensor.Sensor{climateStub(), air}, d, time.Minute, WithClock(fixedNow))

	m, _ := p.Cycle(context.Background())
	if d.count() != 1 {
		t.Fatalf("dispatch not reached")
	}
	if _, ok := m.Get(sensor.FieldPM25); ok || !m.Has(sensor.FieldPM25) {
		t.Fatalf("panicking sensor should yield null fields: %+v", m)
	}
	if v, ok := m.Get(sensor.FieldHumidity); !ok || v != 40 {
		t.Fatalf("climate lost: %+v", m)
	}
}

func TestRunSurvivesPanicsAndStops(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	d := &recordingDispatcher{panics: 1}
	p := New([]sensor.Sensor{climateStub()}, d, time.Millisecond, WithLogger(zap.New(core).Sugar()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for d.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d cycles ran", d.count())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if logs.FilterMessage("poll cycle crashed").Len() != 1 {
		t.Fatalf("crash not logged")
	}
}

func TestCycleWithConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	d, err := output.NewDispatcher(nil, console.NewWriter(&buf))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	p := New([]sensor.Sensor{airStub()}, d, time.Minute, WithClock(fixedNow))

	_, outcomes := p.Cycle(context.Background())
	if len(outcomes) != 1 || outcomes[0].Status != output.Delivered {
		t.Fatalf("outcomes: %+v", outcomes)
	}
	want := `2025-09-19T14:41:54Z {"timestamp":1758292914,"sensor_air_quality":"sds011","pm25":10.5,"pm10":25}` + "\n"
	if buf.String() != want {
		t.Fatalf("console got %q", buf.String())
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected exactly one console write")
	}
}
