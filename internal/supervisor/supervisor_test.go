package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/comsrv/internal/config"
)

func TestTransportChangedDetectsDifference(t *testing.T) {
	a := config.TransportConfig{Kind: "TCP", Host: "10.0.0.1", TCPPort: 502}
	b := a
	assert.False(t, transportChanged(a, b))

	b.TCPPort = 503
	assert.True(t, transportChanged(a, b))
}

func TestLoadWithNoEnabledChannelsStartsNothing(t *testing.T) {
	s := New(nil, nil)
	cfg := &config.Config{Channels: []config.ChannelConfig{
		{ID: 1, Name: "disabled", Enabled: false},
	}}
	require.NoError(t, s.Load(cfg))
	assert.Empty(t, s.Status())
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestUpdateIgnoresDisabledChannels(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Load(&config.Config{}))

	err := s.Update(&config.Config{Channels: []config.ChannelConfig{
		{ID: 1, Name: "still-disabled", Enabled: false},
	}})
	require.NoError(t, err)
	assert.Empty(t, s.Status())
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestBuildModelRejectsUnrecognizedKind(t *testing.T) {
	_, err := buildModel([]config.PointRecord{{ID: "x", Kind: "BOGUS", ScalarType: "UINT16"}}, 0)
	require.Error(t, err)
}

func TestBuildModelRejectsUnrecognizedScalarType(t *testing.T) {
	_, err := buildModel([]config.PointRecord{{ID: "x", Kind: "TELEMETRY", ScalarType: "BOGUS"}}, 0)
	require.Error(t, err)
}

func TestBuildTransportRejectsUnrecognizedKind(t *testing.T) {
	_, _, _, err := buildTransport(config.TransportConfig{Kind: "CARRIER_PIGEON"}, nil)
	require.Error(t, err)
}
