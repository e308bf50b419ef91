package sensor

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// BME280Sensor reads temperature, humidity and pressure from a Bosch
// BME280 (or BMP280, which has no humidity) on I2C.
type BME280Sensor struct {
	dev         *bmxx80.Dev
	bus         i2c.BusCloser
	hasHumidity bool
}

// BME280Options selects the bus and address of the device.
type BME280Options struct {
	Bus     string
	Address uint16
}

var bme280Opts = bmxx80.Opts{
	Temperature: bmxx80.O2x,
	Pressure:    bmxx80.O16x,
	Humidity:    bmxx80.O1x,
	Filter:      bmxx80.F16,
}

func NewBME280Sensor(o BME280Options) (Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(o.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	opts := bme280Opts
	dev, err := bmxx80.NewI2C(bus, o.Address, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bme280 init: %w", err)
	}
	return &BME280Sensor{
		dev:         dev,
		bus:         bus,
		hasHumidity: strings.Contains(dev.String(), "BME"),
	}, nil
}

func (s *BME280Sensor) Name() string { return "bme280" }
func (s *BME280Sensor) Role() Role   { return RoleClimate }

func (s *BME280Sensor) Fields() []string {
	return []string{FieldTemperatureCelsius, FieldTemperatureFahrenheit, FieldHumidity, FieldPressure}
}

func (s *BME280Sensor) Read() ([]Field, error) {
	var e physic.Env
	if err := s.dev.Sense(&e); err != nil {
		return nil, fmt.Errorf("bme280 sense: %w", err)
	}
	return envFields(e, s.hasHumidity), nil
}

func (s *BME280Sensor) Close() error {
	if s.dev != nil {
		_ = s.dev.Halt()
	}
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

// envFields converts a periph reading. Values outside the physical range of
// the part are reported as null.
func envFields(e physic.Env, hasHumidity bool) []Field {
	celsius := e.Temperature.Celsius()
	hpa := float64(e.Pressure) / float64(physic.Pascal) / 100
	out := []Field{{Name: FieldTemperatureCelsius}}
	if celsius >= -40 && celsius <= 85 {
		out[0].Value = Value(celsius)
	}
	hum := Field{Name: FieldHumidity}
	if rh := float64(e.Humidity) / float64(physic.PercentRH); hasHumidity && rh >= 0 && rh <= 100 {
		hum.Value = Value(rh)
	}
	press := Field{Name: FieldPressure}
	if hpa >= 300 && hpa <= 1100 {
		press.Value = Value(hpa)
	}
	return withFahrenheit(append(out, hum, press))
}
