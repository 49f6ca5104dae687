package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Quantity identifies one of the exported measurement families.
type Quantity int

const (
	// Temperature is the room temperature in degrees Celsius.
	Temperature Quantity = iota
	// Humidity is the relative humidity in percent.
	Humidity
	// Pressure is the air pressure in kPa.
	Pressure
	// Battery is the sensor battery voltage.
	Battery
)

// Quantities lists every measurement family, for clear-all sweeps.
var Quantities = []Quantity{Temperature, Humidity, Pressure, Battery}

// String returns the metric family name for the quantity.
func (q Quantity) String() string {
	switch q {
	case Temperature:
		return "room_temperature"
	case Humidity:
		return "humidity"
	case Pressure:
		return "air_pressure"
	case Battery:
		return "sensor_battery"
	default:
		return "unknown"
	}
}

// Sink receives set/clear instructions keyed by (quantity, sensor label).
// Implementations synchronize internally; callers must not invoke Sink
// methods while holding the sensor registry's lock.
type Sink interface {
	// Set publishes a value for the quantity of the sensor labeled unit.
	Set(q Quantity, unit string, value float64)
	// Clear removes any published value for (quantity, unit).
	Clear(q Quantity, unit string)
	// ClearAll removes every quantity published for unit.
	ClearAll(unit string)
}

// SensorMetrics implements Sink on four Prometheus gauge vectors, each
// keyed by the "unit" label carrying the sensor's hardware identity.
type SensorMetrics struct {
	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	pressure    *prometheus.GaugeVec
	battery     *prometheus.GaugeVec
}

var _ Sink = (*SensorMetrics)(nil)

// NewSensorMetrics creates the four sensor gauge vectors, unregistered.
func NewSensorMetrics() *SensorMetrics {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name,
				Help: help,
			},
			[]string{"unit"},
		)
	}

	return &SensorMetrics{
		temperature: gauge("room_temperature", "Room temperature in degrees"),
		humidity:    gauge("humidity", "Humidity in percent"),
		pressure:    gauge("air_pressure", "Pressure in kPa"),
		battery:     gauge("sensor_battery", "Battery Volts"),
	}
}

func (m *SensorMetrics) gauge(q Quantity) *prometheus.GaugeVec {
	switch q {
	case Temperature:
		return m.temperature
	case Humidity:
		return m.humidity
	case Pressure:
		return m.pressure
	case Battery:
		return m.battery
	default:
		return nil
	}
}

// Set publishes a value for (quantity, unit).
func (m *SensorMetrics) Set(q Quantity, unit string, value float64) {
	if g := m.gauge(q); g != nil {
		g.WithLabelValues(unit).Set(value)
	}
}

// Clear removes any published value for (quantity, unit). Clearing a
// value that was never set is a no-op.
func (m *SensorMetrics) Clear(q Quantity, unit string) {
	if g := m.gauge(q); g != nil {
		g.DeleteLabelValues(unit)
	}
}

// ClearAll removes every quantity published for unit.
func (m *SensorMetrics) ClearAll(unit string) {
	for _, q := range Quantities {
		m.Clear(q, unit)
	}
}

// Collectors returns the gauge vectors for registration.
func (m *SensorMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.temperature, m.humidity, m.pressure, m.battery}
}
