package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPEncodeDecodeRoundTrip(t *testing.T) {
	f := NewTCPFramer()
	var txns TransactionAllocator
	txn := txns.Next()

	pdu := EncodeReadPDU(FuncReadHoldingRegisters, 100, 1)
	frame := f.EncodeFrame(txn, 0x01, pdu)

	// MBAP length field must reflect unit+fc+data.
	length := getUint16(frame[4:6])
	assert.EqualValues(t, 1+1+len(pdu.Data), length)

	decoded, err := DecodeFrame(frame, txn)
	require.NoError(t, err)
	assert.Equal(t, pdu, decoded)
}

func TestTCPTransactionIDsIncrementModulo65536(t *testing.T) {
	var txns TransactionAllocator
	txns.next = 0xFFFE
	first := txns.Next()
	second := txns.Next()
	assert.EqualValues(t, 0xFFFF, first)
	assert.EqualValues(t, 0, second)
}

func TestTCPDecodeRejectsMismatchedTransactionID(t *testing.T) {
	f := NewTCPFramer()
	frame := f.EncodeFrame(42, 0x01, EncodeReadPDU(FuncReadHoldingRegisters, 0, 1))

	_, err := DecodeFrame(frame, 43)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNEXPECTED_FUNCTION")
}

func TestDecodeHeaderRejectsBadProtocolID(t *testing.T) {
	header := make([]byte, mbapHeaderLen)
	putUint16(header[2:4], 1) // non-zero protocol id
	_, _, _, err := DecodeHeader(header)
	require.Error(t, err)
}
