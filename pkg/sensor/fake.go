package sensor

import (
	"math/rand"
	"sync"
)

// FakeClimate simulates a temperature/humidity/pressure sensor.
type FakeClimate struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewFakeClimate(seed int64) Sensor {
	return &FakeClimate{rnd: rand.New(rand.NewSource(seed))}
}

func (f *FakeClimate) Name() string { return "fake" }
func (f *FakeClimate) Role() Role   { return RoleClimate }

func (f *FakeClimate) Fields() []string {
	return []string{FieldTemperatureCelsius, FieldTemperatureFahrenheit, FieldHumidity, FieldPressure}
}

func (f *FakeClimate) Read() ([]Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Field{
		{Name: FieldTemperatureCelsius, Value: Value(round1(15 + f.rnd.Float64()*15))},
		{Name: FieldHumidity, Value: Value(round1(30 + f.rnd.Float64()*40))},
		{Name: FieldPressure, Value: Value(round1(995 + f.rnd.Float64()*30))},
	}
	return withFahrenheit(out), nil
}

func (f *FakeClimate) Close() error { return nil }

// FakeAirQuality simulates a particulate matter sensor.
type FakeAirQuality struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewFakeAirQuality(seed int64) Sensor {
	return &FakeAirQuality{rnd: rand.New(rand.NewSource(seed))}
}

func (f *FakeAirQuality) Name() string     { return "fake" }
func (f *FakeAirQuality) Role() Role       { return RoleAirQuality }
func (f *FakeAirQuality) Fields() []string { return []string{FieldPM25, FieldPM10} }

func (f *FakeAirQuality) Read() ([]Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pm25 := round1(f.rnd.Float64() * 35)
	return []Field{
		{Name: FieldPM25, Value: Value(pm25)},
		{Name: FieldPM10, Value: Value(round1(pm25 + f.rnd.Float64()*20))},
	}, nil
}

func (f *FakeAirQuality) Close() error { return nil }

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
