package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vandry/ruuvi-bridge/errors"
)

// Ruuvi data format 5 layout, offsets relative to the validated payload.
// https://github.com/ruuvi/ruuvi-sensor-protocols/blob/master/dataformat_05.md
const (
	minPayloadLen = 30

	offTemperature = 3
	offHumidity    = 5
	offPressure    = 7
	offPower       = 15
	offAddr        = 20
)

// formatTag identifies the one supported broadcast layout: Ruuvi
// manufacturer ID 0x0499 followed by format byte 5.
var formatTag = [3]byte{0x99, 0x04, 0x05}

// HardwareAddr is the 6-byte identity of a sensor device.
type HardwareAddr [6]byte

// missingAddr is the reserved "no address" value.
var missingAddr = HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// String renders the address as six lowercase hex octets joined by colons.
// Octets are not zero-padded: byte 0x02 renders as "2", not "02". The
// metric label format depends on this.
func (a HardwareAddr) String() string {
	return fmt.Sprintf("%x:%x:%x:%x:%x:%x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Quantity is one physical measurement that is either present with a
// value or explicitly absent. Sentinel raw values are resolved here, at
// the decoder boundary; they never propagate further.
type Quantity struct {
	Value   float64
	Present bool
}

func present(v float64) Quantity {
	return Quantity{Value: v, Present: true}
}

// Reading is one decoded sensor broadcast.
type Reading struct {
	Addr        HardwareAddr
	Temperature Quantity // degrees Celsius
	Humidity    Quantity // percent relative humidity
	Pressure    Quantity // kPa
	Battery     Quantity // volts
}

// Decode interprets a validated payload as a format 5 broadcast.
//
// A payload that is too short or carries a different format tag returns
// (nil, nil): other broadcast formats exist in the wild and are expected,
// not erroneous. A broadcast with the reserved all-ones identity returns
// ErrMissingIdentity and must not touch the registry or any metric.
func Decode(payload []byte) (*Reading, error) {
	if len(payload) < minPayloadLen || [3]byte(payload[:3]) != formatTag {
		return nil, nil
	}

	r := &Reading{Addr: HardwareAddr(payload[offAddr : offAddr+6])}
	if r.Addr == missingAddr {
		return nil, errors.ErrMissingIdentity
	}

	if raw := int16(binary.BigEndian.Uint16(payload[offTemperature:])); raw != math.MinInt16 {
		r.Temperature = present(float64(raw) * 0.005)
	}
	if raw := binary.BigEndian.Uint16(payload[offHumidity:]); raw != math.MaxUint16 {
		r.Humidity = present(float64(raw) * 0.0025)
	}
	if raw := binary.BigEndian.Uint16(payload[offPressure:]); raw != math.MaxUint16 {
		r.Pressure = present(float64(raw)/1000 + 50)
	}
	// The top 11 bits of the power field carry the battery voltage; the
	// all-ones value 2047 means "not available".
	if raw := binary.BigEndian.Uint16(payload[offPower:]) >> 5; raw != 2047 {
		r.Battery = present(float64(raw)/1000 + 1.6)
	}

	return r, nil
}
