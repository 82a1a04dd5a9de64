// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package modbus

import (
	"sync/atomic"

	"github.com/circutor/comsrv/internal/comserr"
)

const mbapHeaderLen = 7 // txn(2) + proto(2) + len(2) + unit(1)

// TransactionAllocator mints MBAP transaction ids for one channel,
// monotonically incrementing modulo 2^16, per spec §4.2.
type TransactionAllocator struct {
	next uint32
}

// Next returns the next transaction id.
func (a *TransactionAllocator) Next() uint16 {
	return uint16(atomic.AddUint32(&a.next, 1))
}

// TCPFramer encodes/decodes Modbus TCP (MBAP) frames.
type TCPFramer struct{}

// NewTCPFramer returns a stateless TCP/MBAP framer.
func NewTCPFramer() *TCPFramer {
	return &TCPFramer{}
}

// EncodeFrame wraps a transaction id, unit id and PDU into a complete MBAP frame.
func (TCPFramer) EncodeFrame(txnID uint16, unit byte, pdu PDU) []byte {
	length := 1 + 1 + len(pdu.Data) // unit + fc + data
	frame := make([]byte, mbapHeaderLen+1+len(pdu.Data))
	putUint16(frame[0:2], txnID)
	putUint16(frame[2:4], 0) // protocol id, always 0 for Modbus
	putUint16(frame[4:6], uint16(length))
	frame[6] = unit
	frame[7] = byte(pdu.Function)
	copy(frame[8:], pdu.Data)
	return frame
}

// DecodeHeader reads the MBAP header to learn the transaction id and how many
// bytes (function code plus data) follow the header, so the caller knows how
// many more bytes to read.
// headerBytes must be exactly mbapHeaderLen (7) bytes.
func DecodeHeader(headerBytes []byte) (txnID uint16, unit byte, remaining int, err error) {
	if len(headerBytes) != mbapHeaderLen {
		return 0, 0, 0, comserr.New(comserr.Malformed, "MBAP header must be %d bytes, got %d", mbapHeaderLen, len(headerBytes))
	}
	txnID = getUint16(headerBytes[0:2])
	proto := getUint16(headerBytes[2:4])
	if proto != 0 {
		return 0, 0, 0, comserr.New(comserr.Malformed, "unexpected MBAP protocol id %d", proto)
	}
	length := int(getUint16(headerBytes[4:6]))
	unit = headerBytes[6]
	if length < 1 {
		return 0, 0, 0, comserr.New(comserr.Malformed, "MBAP length field %d too small", length)
	}
	remaining = length - 1 // length counts unit id; fc+data follow
	return txnID, unit, remaining, nil
}

// DecodeFrame splits a complete MBAP frame (header + unit/fc/data, i.e. what
// DecodeHeader's remaining bytes plus the header make up) into its fields and
// confirms the received transaction id matches expectedTxnID.
func DecodeFrame(frame []byte, expectedTxnID uint16) (pdu PDU, err error) {
	if len(frame) < mbapHeaderLen+1 {
		return PDU{}, comserr.New(comserr.Malformed, "MBAP frame too short: %d bytes", len(frame))
	}
	txnID, _, remaining, err := DecodeHeader(frame[:mbapHeaderLen])
	if err != nil {
		return PDU{}, err
	}
	if mbapHeaderLen+remaining != len(frame) {
		return PDU{}, comserr.New(comserr.Malformed, "MBAP length mismatch: header implies %d bytes after header, got %d", remaining, len(frame)-mbapHeaderLen)
	}
	if txnID != expectedTxnID {
		return PDU{}, comserr.New(comserr.UnexpectedFunction, "unexpected transaction id: got %d want %d", txnID, expectedTxnID)
	}
	fc := FunctionCode(frame[mbapHeaderLen])
	data := frame[mbapHeaderLen+1:]
	return PDU{Function: fc, Data: data}, nil
}
