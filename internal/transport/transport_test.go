package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 500*time.Millisecond, b.Delay(0))
	assert.Equal(t, 1*time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 30*time.Second, b.Delay(10))
}

func TestBackoffMonotonicPerRetry(t *testing.T) {
	// §8: "backoff delay ≥ previous delay or the configured cap"
	b := DefaultBackoff()
	prev := b.Delay(0)
	for i := 1; i < 15; i++ {
		d := b.Delay(i)
		assert.True(t, d >= prev || d == b.Max)
		prev = d
	}
}

func TestJitterStaysWithinPlusMinus20Percent(t *testing.T) {
	d := 2 * time.Second
	lo := time.Duration(float64(d) * 0.8)
	hi := time.Duration(float64(d) * 1.2)
	for i := 0; i < 50; i++ {
		j := Jitter(d)
		assert.GreaterOrEqual(t, j, lo)
		assert.LessOrEqual(t, j, hi)
	}
}

func TestJitterLeavesZeroUntouched(t *testing.T) {
	assert.Equal(t, time.Duration(0), Jitter(0))
}

func TestCharTimeAndSilenceFloors(t *testing.T) {
	tr := NewSerialTransport(SerialSpec{Baud: 9600, DataBits: 8, StopBits: 1, Parity: "N"})
	assert.Greater(t, tr.CharTime, time.Duration(0))
	assert.GreaterOrEqual(t, tr.InterFrameSilence(), 1750*time.Microsecond)
	assert.GreaterOrEqual(t, tr.InterCharTimeout(), 750*time.Microsecond)
}

func TestCharTimeFloorsAtHighBaud(t *testing.T) {
	// Above 19200 baud the char-time computation would fall under the
	// standard's own floor; InterFrameSilence/InterCharTimeout must clamp.
	tr := NewSerialTransport(SerialSpec{Baud: 115200, DataBits: 8, StopBits: 1, Parity: "N"})
	assert.Equal(t, 1750*time.Microsecond, tr.InterFrameSilence())
	assert.Equal(t, 750*time.Microsecond, tr.InterCharTimeout())
}
