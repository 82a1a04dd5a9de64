package points

import (
	"math"
	"testing"

	"github.com/circutor/comsrv/internal/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeScenario1SingleHoldingRegisterTelemetry(t *testing.T) {
	p := Point{
		ID: "10001", Kind: Telemetry, Scalar: UInt16, ByteOrder: ABCD,
		Scale: 0.1, Offset: 0,
		Address: ModbusAddress{FunctionCode: modbus.FuncReadHoldingRegisters, Address: 100, BitLength: 16},
	}
	payload := []byte{0x00, 0x19} // raw 25
	s, err := Decode(p, 0, payload)
	require.NoError(t, err)
	assert.EqualValues(t, 25, s.Raw)
	assert.InDelta(t, 2.5, s.Engineering, 1e-9)
	assert.Equal(t, Good, s.Quality)
}

func TestDecodeScenario3CoilSignalRead(t *testing.T) {
	// Device returns byte A5 = 1010 0101 -> bits 1,0,1,0,0,1,0,1
	bits, err := modbus.DecodeCoils(modbusPDU(0xA5), 8)
	require.NoError(t, err)
	want := []bool{true, false, true, false, false, true, false, true}
	assert.Equal(t, want, bits)

	p := Point{ID: "x", Kind: Signal, Scalar: Bool, Address: ModbusAddress{FunctionCode: modbus.FuncReadCoils, BitLength: 1}}
	for i, b := range bits {
		s := DecodeCoilSample(p, b)
		assert.Equal(t, want[i], s.BoolValue())
	}
}

func modbusPDU(b byte) modbus.PDU {
	return modbus.PDU{Function: modbus.FuncReadCoils, Data: []byte{0x01, b}}
}

func TestByteOrderTailOfReadGroupAllFourOrders(t *testing.T) {
	// Spec §8 boundary: a FLOAT32 at the tail of a ReadGroup decodes
	// identically under any byte order when the input bytes are pre-swapped
	// correspondingly.
	canonical := []byte{0x40, 0x48, 0xF5, 0xC3} // 3.14 big-endian ABCD

	cases := map[ByteOrder][]byte{
		ABCD: {0x40, 0x48, 0xF5, 0xC3},
		BADC: {0x48, 0x40, 0xC3, 0xF5},
		CDAB: {0xF5, 0xC3, 0x40, 0x48},
		DCBA: {0xC3, 0xF5, 0x48, 0x40},
	}

	wantRaw, wantFloat, err := DecodeScalar(canonical, Float32)
	require.NoError(t, err)

	for order, bytes := range cases {
		combined := swapBytes(bytes, order)
		gotRaw, gotFloat, err := DecodeScalar(combined, Float32)
		require.NoError(t, err)
		assert.Equal(t, wantRaw, gotRaw, "order %v", order)
		assert.InDelta(t, wantFloat, gotFloat, 1e-6, "order %v", order)
	}
}

func TestDecodeAppliesRangeQuality(t *testing.T) {
	p := Point{
		ID: "x", Kind: Telemetry, Scalar: UInt16, Scale: 1, Offset: 0,
		Range:   ValidityRange{Min: 0, Max: 10, Set: true},
		Address: ModbusAddress{FunctionCode: modbus.FuncReadHoldingRegisters, BitLength: 16},
	}
	s, err := Decode(p, 0, []byte{0x00, 0x32}) // 50, out of [0,10]
	require.NoError(t, err)
	assert.Equal(t, RangeQuality, s.Quality)
}

func TestExtractRegisterBytesOutOfRange(t *testing.T) {
	_, err := ExtractRegisterBytes([]byte{0x00, 0x01}, 1, 1)
	require.Error(t, err)
}

func TestEncodeScalarAndEncodeBytesRoundTripThroughDecode(t *testing.T) {
	for _, tc := range []struct {
		name   string
		scalar ScalarType
		order  ByteOrder
		raw    float64
	}{
		{"uint16 ABCD", UInt16, ABCD, 42},
		{"int16 ABCD negative", Int16, ABCD, -7},
		{"float32 CDAB", Float32, CDAB, 123.5},
		{"uint32 DCBA", UInt32, DCBA, 70000},
		{"int32 BADC", Int32, BADC, -70000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			combined, err := EncodeScalar(tc.raw, tc.scalar)
			require.NoError(t, err)
			wire := EncodeBytes(combined, tc.order)

			decodedCombined := swapBytes(wire, tc.order)
			gotRaw, gotFloat, err := DecodeScalar(decodedCombined, tc.scalar)
			require.NoError(t, err)

			if tc.scalar == Float32 {
				assert.InDelta(t, tc.raw, gotFloat, 1e-3)
			} else {
				assert.EqualValues(t, tc.raw, gotRaw)
			}
		})
	}
}

func TestScaleOffsetInverseRecoversRawWithinULP(t *testing.T) {
	// Spec §8: applying scale+offset then its inverse recovers the raw value
	// to within 1 ULP of FLOAT32.
	raw := float32(1234.5)
	scale, offset := 0.01, 5.0
	eng := ApplyTransform(float64(raw), scale, offset)
	recovered := float32((eng - offset) / scale)
	ulp := float64(math.Nextafter32(raw, math.MaxFloat32) - raw)
	assert.InDelta(t, raw, recovered, ulp)
}
