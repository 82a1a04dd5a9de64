// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package modbus

import "github.com/circutor/comsrv/internal/comserr"

// RTUFramer encodes/decodes Modbus RTU frames: [unit][fc][payload][crc16-le].
type RTUFramer struct{}

// NewRTUFramer returns a stateless RTU framer.
func NewRTUFramer() *RTUFramer {
	return &RTUFramer{}
}

// EncodeFrame wraps a unit id and PDU into a complete RTU frame with trailing CRC.
func (RTUFramer) EncodeFrame(unit byte, pdu PDU) []byte {
	frame := make([]byte, 2+len(pdu.Data)+2)
	frame[0] = unit
	frame[1] = byte(pdu.Function)
	copy(frame[2:], pdu.Data)
	crc := crc16(frame[:len(frame)-2])
	frame[len(frame)-2] = byte(crc)
	frame[len(frame)-1] = byte(crc >> 8)
	return frame
}

// DecodeFrame validates the CRC of a received RTU frame and splits it into
// unit id and PDU.
func (RTUFramer) DecodeFrame(frame []byte) (unit byte, pdu PDU, err error) {
	if len(frame) < 4 {
		return 0, PDU{}, comserr.New(comserr.Malformed, "RTU frame too short: %d bytes", len(frame))
	}
	payload := frame[:len(frame)-2]
	gotCRC := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	wantCRC := crc16(payload)
	if gotCRC != wantCRC {
		return 0, PDU{}, comserr.New(comserr.CRCError, "CRC mismatch: got %04X want %04X", gotCRC, wantCRC)
	}
	unit = payload[0]
	pdu = PDU{Function: FunctionCode(payload[1]), Data: payload[2:]}
	return unit, pdu, nil
}

// FrameSize returns the number of bytes a complete RTU frame carrying the
// given number of PDU data bytes occupies: unit, function code, data, CRC.
func FrameSize(pduByteLen int) int {
	return 2 + pduByteLen + 2
}
