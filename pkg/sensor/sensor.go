package sensor

import (
	"bytes"
	"time"

	"github.com/segmentio/encoding/json"
)

// Recognized numeric fields.
const (
	FieldTemperatureCelsius    = "temperature_celsius"
	FieldTemperatureFahrenheit = "temperature_fahrenheit"
	FieldHumidity              = "humidity"
	FieldPressure              = "pressure"
	FieldPM25                  = "pm25"
	FieldPM10                  = "pm10"
)

// Sensor identity tags.
const (
	TagTempHum    = "sensor_temp_hum"
	TagAirQuality = "sensor_air_quality"
)

const keyTimestamp = "timestamp"

// KnownFields lists every numeric field a Measurement may carry.
var KnownFields = []string{
	FieldTemperatureCelsius,
	FieldTemperatureFahrenheit,
	FieldHumidity,
	FieldPressure,
	FieldPM25,
	FieldPM10,
}

// IsKnownField reports whether name is one of KnownFields.
func IsKnownField(name string) bool {
	for _, f := range KnownFields {
		if f == name {
			return true
		}
	}
	return false
}

// Field is one named reading. A nil Value means the sensor could not
// produce it this cycle.
type Field struct {
	Name  string
	Value *float64
}

// Value returns a pointer to v, for building Fields.
func Value(v float64) *float64 { return &v }

// Measurement is one timestamped bundle of readings. Fields keep insertion
// order.
type Measurement struct {
	Timestamp        float64
	SensorTempHum    string
	SensorAirQuality string
	Fields           []Field
}

// New returns an empty Measurement stamped with t.
func New(t time.Time) Measurement {
	return Measurement{Timestamp: float64(t.UnixNano()) / 1e9}
}

// Set stores a field, replacing an existing one of the same name in place.
func (m *Measurement) Set(name string, v *float64) {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			m.Fields[i].Value = v
			return
		}
	}
	m.Fields = append(m.Fields, Field{Name: name, Value: v})
}

// Has reports whether the field is present, null or not.
func (m Measurement) Has(name string) bool {
	for _, f := range m.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Get returns the field value when present and non-null.
func (m Measurement) Get(name string) (float64, bool) {
	for _, f := range m.Fields {
		if f.Name == name && f.Value != nil {
			return *f.Value, true
		}
	}
	return 0, false
}

// Clone returns a deep copy.
func (m Measurement) Clone() Measurement {
	out := m
	out.Fields = make([]Field, len(m.Fields))
	for i, f := range m.Fields {
		out.Fields[i] = Field{Name: f.Name}
		if f.Value != nil {
			out.Fields[i].Value = Value(*f.Value)
		}
	}
	return out
}

// Time returns the timestamp as a time.Time.
func (m Measurement) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Entry is one key of the flattened record: the timestamp, a tag or a field.
type Entry struct {
	Key   string
	Value interface{}
}

// Entries flattens the measurement in wire order: timestamp, tags that are
// set, then fields in insertion order. Null fields carry a nil Value.
func (m Measurement) Entries() []Entry {
	out := make([]Entry, 0, len(m.Fields)+3)
	out = append(out, Entry{Key: keyTimestamp, Value: m.Timestamp})
	if m.SensorTempHum != "" {
		out = append(out, Entry{Key: TagTempHum, Value: m.SensorTempHum})
	}
	if m.SensorAirQuality != "" {
		out = append(out, Entry{Key: TagAirQuality, Value: m.SensorAirQuality})
	}
	for _, f := range m.Fields {
		if f.Value == nil {
			out = append(out, Entry{Key: f.Name})
			continue
		}
		out = append(out, Entry{Key: f.Name, Value: *f.Value})
	}
	return out
}

// MarshalJSON encodes the measurement as a flat JSON object keeping the
// order of Entries.
func (m Measurement) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Role says which identity tag a sensor fills.
type Role int

const (
	RoleClimate Role = iota
	RoleAirQuality
)

func (r Role) String() string {
	if r == RoleAirQuality {
		return "air_quality"
	}
	return "climate"
}

// Sensor is the contract every driver satisfies. Read may return nil values
// for fields it could not obtain; an error means nothing usable was read.
type Sensor interface {
	Name() string
	Role() Role
	Fields() []string
	Read() ([]Field, error)
	Close() error
}
