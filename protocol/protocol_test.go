package protocol

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vandry/ruuvi-bridge/errors"
)

// testPayload builds a minimal format 5 payload with the given raw field
// values and identity.
func testPayload(temp int16, humidity, pressure, power uint16, addr HardwareAddr) []byte {
	p := make([]byte, minPayloadLen)
	copy(p, formatTag[:])
	binary.BigEndian.PutUint16(p[offTemperature:], uint16(temp))
	binary.BigEndian.PutUint16(p[offHumidity:], humidity)
	binary.BigEndian.PutUint16(p[offPressure:], pressure)
	binary.BigEndian.PutUint16(p[offPower:], power)
	copy(p[offAddr:], addr[:])
	return p
}

var testAddr = HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

func TestValidateAcceptsSealedPayload(t *testing.T) {
	payload := []byte("hello sensor")
	got, err := Validate(Seal(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestValidateEmptyPayload(t *testing.T) {
	got, err := Validate(Seal(nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestValidateTooShort(t *testing.T) {
	for _, frame := range [][]byte{nil, {0x01}, {0x01, 0x02, 0x03}} {
		_, err := Validate(frame)
		assert.ErrorIs(t, err, errors.ErrFrameTooShort)
	}
}

func TestValidateRejectsBitFlips(t *testing.T) {
	frame := Seal([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x42})

	for i := 4; i < len(frame); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(frame))
			copy(corrupted, frame)
			corrupted[i] ^= 1 << bit

			_, err := Validate(corrupted)
			assert.ErrorIs(t, err, errors.ErrChecksumMismatch,
				"flip byte %d bit %d", i, bit)
		}
	}
}

func TestHardwareAddrString(t *testing.T) {
	assert.Equal(t, "1:2:3:4:5:6", testAddr.String())
	assert.Equal(t, "de:ad:be:ef:0:ff",
		HardwareAddr{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0xFF}.String())
}

func TestDecodeReading(t *testing.T) {
	// Raw 325 -> 1.625 degC, 10000 -> 25.0 %, 50350 -> 100.350 kPa,
	// 0x0B1E -> top 11 bits 88 -> 1.688 V.
	r, err := Decode(testPayload(325, 10000, 50350, 0x0B1E, testAddr))
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, testAddr, r.Addr)
	assert.Equal(t, "1:2:3:4:5:6", r.Addr.String())

	require.True(t, r.Temperature.Present)
	assert.InDelta(t, 1.625, r.Temperature.Value, 1e-9)
	require.True(t, r.Humidity.Present)
	assert.InDelta(t, 25.0, r.Humidity.Value, 1e-9)
	require.True(t, r.Pressure.Present)
	assert.InDelta(t, 100.350, r.Pressure.Value, 1e-9)
	require.True(t, r.Battery.Present)
	assert.InDelta(t, 1.688, r.Battery.Value, 1e-9)
}

func TestDecodeNegativeTemperature(t *testing.T) {
	r, err := Decode(testPayload(-400, 10000, 50350, 0x0B1E, testAddr))
	require.NoError(t, err)
	require.NotNil(t, r)
	require.True(t, r.Temperature.Present)
	assert.InDelta(t, -2.0, r.Temperature.Value, 1e-9)
}

func TestDecodeAbsentSentinels(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		absent  func(*Reading) Quantity
	}{
		{
			"temperature",
			testPayload(math.MinInt16, 10000, 50350, 0x0B1E, testAddr),
			func(r *Reading) Quantity { return r.Temperature },
		},
		{
			"humidity",
			testPayload(325, math.MaxUint16, 50350, 0x0B1E, testAddr),
			func(r *Reading) Quantity { return r.Humidity },
		},
		{
			"pressure",
			testPayload(325, 10000, math.MaxUint16, 0x0B1E, testAddr),
			func(r *Reading) Quantity { return r.Pressure },
		},
		{
			"battery",
			// Any power field whose top 11 bits are all ones.
			testPayload(325, 10000, 50350, 2047<<5|0x1F, testAddr),
			func(r *Reading) Quantity { return r.Battery },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode(tt.payload)
			require.NoError(t, err)
			require.NotNil(t, r)

			assert.False(t, tt.absent(r).Present, "%s must be absent", tt.name)

			// The other three quantities stay independently present.
			presentCount := 0
			for _, q := range []Quantity{r.Temperature, r.Humidity, r.Pressure, r.Battery} {
				if q.Present {
					presentCount++
				}
			}
			assert.Equal(t, 3, presentCount)
		})
	}
}

func TestDecodeMissingIdentity(t *testing.T) {
	p := testPayload(325, 10000, 50350, 0x0B1E,
		HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	r, err := Decode(p)
	assert.ErrorIs(t, err, errors.ErrMissingIdentity)
	assert.Nil(t, r)
}

func TestDecodeUnrecognizedFormat(t *testing.T) {
	// A different format tag is a silent no-op, not an error.
	p := testPayload(325, 10000, 50350, 0x0B1E, testAddr)
	p[2] = 0x03

	r, err := Decode(p)
	assert.NoError(t, err)
	assert.Nil(t, r)
}

func TestDecodeShortPayload(t *testing.T) {
	p := testPayload(325, 10000, 50350, 0x0B1E, testAddr)
	r, err := Decode(p[:minPayloadLen-1])
	assert.NoError(t, err)
	assert.Nil(t, r)
}

func TestDecodeEmptyPayload(t *testing.T) {
	r, err := Decode(nil)
	assert.NoError(t, err)
	assert.Nil(t, r)
}
