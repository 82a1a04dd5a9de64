package points

import (
	"testing"

	"github.com/circutor/comsrv/internal/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func telemetryPoint(id string, addr uint16) Point {
	return Point{
		ID: id, Kind: Telemetry, Scalar: UInt16, ByteOrder: ABCD, Scale: 1,
		Address: ModbusAddress{FunctionCode: modbus.FuncReadHoldingRegisters, Address: addr, BitLength: 16},
	}
}

func TestUpsertRejectsInvalidFunctionCode(t *testing.T) {
	m := NewModel()
	bad := Point{
		ID: "x", Kind: Telemetry, Scalar: UInt16,
		Address: ModbusAddress{FunctionCode: modbus.FuncWriteSingleCoil, BitLength: 16},
	}
	require.Error(t, m.Upsert(bad))
	assert.Empty(t, m.All())
}

func TestPlanReadsCoalescesContiguousAddresses(t *testing.T) {
	m := NewModel()
	require.NoError(t, m.Upsert(telemetryPoint("a", 100)))
	require.NoError(t, m.Upsert(telemetryPoint("b", 101)))
	require.NoError(t, m.Upsert(telemetryPoint("c", 102)))

	groups := m.PlanReads()
	require.Len(t, groups, 1)
	assert.EqualValues(t, 100, groups[0].Start)
	assert.Equal(t, 3, groups[0].Count)
	assert.Len(t, groups[0].Points, 3)
}

func TestPlanReadsSplitsOnGapBeyondCoalesceGap(t *testing.T) {
	m := NewModel() // CoalesceGap defaults to 0
	require.NoError(t, m.Upsert(telemetryPoint("a", 100)))
	require.NoError(t, m.Upsert(telemetryPoint("b", 105)))

	groups := m.PlanReads()
	require.Len(t, groups, 2)
}

func TestPlanReadsHonorsConfiguredGap(t *testing.T) {
	m := NewModel()
	m.CoalesceGap = 5
	require.NoError(t, m.Upsert(telemetryPoint("a", 100)))
	require.NoError(t, m.Upsert(telemetryPoint("b", 105)))

	groups := m.PlanReads()
	require.Len(t, groups, 1)
}

func TestPlanReadsNoDuplicatesNoGapsBeyondConfigured(t *testing.T) {
	m := NewModel()
	ids := []string{"a", "b", "c", "d", "e"}
	addrs := []uint16{10, 11, 12, 13, 14}
	for i, id := range ids {
		require.NoError(t, m.Upsert(telemetryPoint(id, addrs[i])))
	}
	groups := m.PlanReads()
	seen := map[string]bool{}
	for _, g := range groups {
		for _, gp := range g.Points {
			assert.False(t, seen[gp.Point.ID], "point %s seen twice", gp.Point.ID)
			seen[gp.Point.ID] = true
		}
	}
	assert.Len(t, seen, len(ids))
}

func TestPlanReadsMaxPerFrameBoundary(t *testing.T) {
	m := NewModel()
	for i := 0; i < modbus.MaxRegistersPerRequest; i++ {
		require.NoError(t, m.Upsert(telemetryPoint(string(rune('a'+i%26))+string(rune(i)), uint16(i))))
	}
	groups := m.PlanReads()
	require.Len(t, groups, 1)
	assert.Equal(t, modbus.MaxRegistersPerRequest, groups[0].Count)
}

func TestPlanReadsMaxPlusOneSplitsIntoTwoFramesNoPointLost(t *testing.T) {
	m := NewModel()
	total := modbus.MaxRegistersPerRequest + 1
	for i := 0; i < total; i++ {
		require.NoError(t, m.Upsert(telemetryPoint(string(rune('a'+i%26))+string(rune(i)), uint16(i))))
	}
	groups := m.PlanReads()
	require.Len(t, groups, 2)
	count := 0
	for _, g := range groups {
		count += len(g.Points)
	}
	assert.Equal(t, total, count)
}

func TestHotReloadAtomicSwap(t *testing.T) {
	m1 := NewModel()
	require.NoError(t, m1.Upsert(telemetryPoint("10002", 200)))
	h := NewHolder(m1)

	inFlight := h.Load()
	assert.NotNil(t, inFlight)

	m2 := NewModel()
	require.NoError(t, m2.Upsert(telemetryPoint("10099", 300)))
	h.Swap(m2)

	_, stillThere := inFlight.Get("10002")
	assert.True(t, stillThere, "in-flight snapshot must keep seeing the model it started with")

	_, gone := h.Load().Get("10002")
	assert.False(t, gone)
	_, present := h.Load().Get("10099")
	assert.True(t, present)
}

func TestReconfigureIdempotent(t *testing.T) {
	m := NewModel()
	p := telemetryPoint("a", 10)
	require.NoError(t, m.Upsert(p))
	require.NoError(t, m.Upsert(p))
	assert.Len(t, m.All(), 1)
}
