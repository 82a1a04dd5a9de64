package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circutor/comsrv/internal/comserr"
	"github.com/circutor/comsrv/internal/modbus"
)

type scriptedLink struct {
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	pdu modbus.PDU
	err error
}

func (s *scriptedLink) RoundTrip(ctx context.Context, unit byte, pdu modbus.PDU, timeout time.Duration) (modbus.PDU, error) {
	r := s.responses[s.calls]
	s.calls++
	return r.pdu, r.err
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	link := &scriptedLink{responses: []scriptedResponse{
		{pdu: modbus.PDU{Function: modbus.FuncReadHoldingRegisters, Data: []byte{0x02, 0x00, 0x19}}},
	}}
	d := New(link, 3, nil)

	resp, history, err := d.Execute(context.Background(), 1, modbus.PDU{Function: modbus.FuncReadHoldingRegisters}, time.Second, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, StateDone, history[0].State)
	assert.EqualValues(t, 0x19, resp.Data[2])
}

func TestExecuteRetriesOnTimeoutThenSucceeds(t *testing.T) {
	link := &scriptedLink{responses: []scriptedResponse{
		{err: comserr.New(comserr.Timeout, "no reply")},
		{pdu: modbus.PDU{Function: modbus.FuncReadHoldingRegisters, Data: []byte{0x02, 0x00, 0x19}}},
	}}
	d := New(link, 3, nil)

	_, history, err := d.Execute(context.Background(), 1, modbus.PDU{Function: modbus.FuncReadHoldingRegisters}, time.Second, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, StateFailTimeout, history[0].State)
	assert.Equal(t, StateDone, history[1].State)
}

func TestExecuteExhaustsRetriesOnRepeatedCRCError(t *testing.T) {
	link := &scriptedLink{responses: []scriptedResponse{
		{err: comserr.New(comserr.CRCError, "bad crc")},
		{err: comserr.New(comserr.CRCError, "bad crc")},
		{err: comserr.New(comserr.CRCError, "bad crc")},
		{err: comserr.New(comserr.CRCError, "bad crc")},
	}}
	d := New(link, 3, nil)

	_, history, err := d.Execute(context.Background(), 1, modbus.PDU{Function: modbus.FuncReadHoldingRegisters}, time.Second, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, comserr.CRCError, comserr.KindOf(err))
	// One original attempt plus three retries.
	assert.Len(t, history, 4)
}

func TestExecuteDoesNotRetryOnProtocolException(t *testing.T) {
	link := &scriptedLink{responses: []scriptedResponse{
		{err: comserr.Exception(modbus.ExIllegalAddress)},
		{pdu: modbus.PDU{Function: modbus.FuncReadHoldingRegisters}}, // would never be reached
	}}
	d := New(link, 3, nil)

	_, history, err := d.Execute(context.Background(), 1, modbus.PDU{Function: modbus.FuncReadHoldingRegisters}, time.Second, 0)
	require.Error(t, err)
	assert.Equal(t, comserr.ProtocolException, comserr.KindOf(err))
	assert.Len(t, history, 1, "must not retry after a device exception")
	assert.Equal(t, 1, link.calls)
}

func TestRTURemainingBytesReadReply(t *testing.T) {
	assert.Equal(t, 2+2, rtuRemainingBytes(modbus.FuncReadHoldingRegisters, 2))
}

func TestRTURemainingBytesWriteAck(t *testing.T) {
	assert.Equal(t, 5, rtuRemainingBytes(modbus.FuncWriteSingleRegister, 0))
}

func TestRTURemainingBytesException(t *testing.T) {
	assert.Equal(t, 2, rtuRemainingBytes(modbus.FuncReadHoldingRegisters|0x80, modbus.ExIllegalAddress))
}
