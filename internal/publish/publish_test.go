package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/comsrv/internal/points"
)

func TestSampleKeyFormat(t *testing.T) {
	assert.Equal(t, "7:m:10001", SampleKey(7, points.Telemetry, "10001"))
	assert.Equal(t, "7:s:10002", SampleKey(7, points.Signal, "10002"))
	assert.Equal(t, "7:c:10003", SampleKey(7, points.Control, "10003"))
	assert.Equal(t, "7:a:10004", SampleKey(7, points.Setpoint, "10004"))
}

func TestHashKeyFormat(t *testing.T) {
	assert.Equal(t, "comsrv:7:m", HashKey(7, points.Telemetry))
}

func TestStatusKeyFormat(t *testing.T) {
	assert.Equal(t, "comsrv:status:7", StatusKey(7))
}

func TestFormatValueSixDecimalForTelemetry(t *testing.T) {
	s := points.Sample{Kind: points.Telemetry, Engineering: 2.5}
	assert.Equal(t, "2.500000", formatValue(s))
}

func TestFormatValueBooleanForSignal(t *testing.T) {
	on := points.Sample{Kind: points.Signal, Engineering: 1}
	off := points.Sample{Kind: points.Signal, Engineering: 0}
	assert.Equal(t, "1", formatValue(on))
	assert.Equal(t, "0", formatValue(off))
}

func TestPublishBuffersAndSignalsFlushAtBatchSize(t *testing.T) {
	p := &Publisher{flush: make(chan struct{}, 1)}
	for i := 0; i < batchSize-1; i++ {
		require.NoError(t, p.Publish(context.Background(), points.Sample{PointID: "x"}))
	}
	select {
	case <-p.flush:
		t.Fatal("should not signal flush before batch size is reached")
	default:
	}

	require.NoError(t, p.Publish(context.Background(), points.Sample{PointID: "x"}))
	select {
	case <-p.flush:
	default:
		t.Fatal("expected flush signal once batch size reached")
	}
	assert.Len(t, p.buf, batchSize)
}
