package sensor

import "time"

// CelsiusToFahrenheit converts c to degrees Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 { return c*9/5 + 32 }

// FahrenheitToCelsius converts f to degrees Celsius.
func FahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }

// Result is one sensor's contribution to a poll cycle.
type Result struct {
	Sensor Sensor
	Fields []Field
	Err    error
}

// Merge builds the cycle's Measurement. A failed sensor contributes a null
// for every field it normally produces and leaves its identity tag unset.
func Merge(now time.Time, results []Result) Measurement {
	m := New(now)
	for _, r := range results {
		if r.Err != nil {
			for _, name := range r.Sensor.Fields() {
				m.Set(name, nil)
			}
			continue
		}
		switch r.Sensor.Role() {
		case RoleAirQuality:
			m.SensorAirQuality = r.Sensor.Name()
		default:
			m.SensorTempHum = r.Sensor.Name()
		}
		for _, f := range r.Fields {
			m.Set(f.Name, f.Value)
		}
	}
	return m
}

// withFahrenheit appends the Fahrenheit field derived from the Celsius one.
func withFahrenheit(fields []Field) []Field {
	for _, f := range fields {
		if f.Name != FieldTemperatureCelsius {
			continue
		}
		var v *float64
		if f.Value != nil {
			v = Value(CelsiusToFahrenheit(*f.Value))
		}
		return append(fields, Field{Name: FieldTemperatureFahrenheit, Value: v})
	}
	return fields
}
