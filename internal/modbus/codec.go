// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package modbus

import "github.com/circutor/comsrv/internal/comserr"

// EncodeReadPDU builds the PDU for a read request (FC 01/02/03/04) of count
// items starting at start.
func EncodeReadPDU(fc FunctionCode, start, count uint16) PDU {
	data := make([]byte, 4)
	putUint16(data[0:2], start)
	putUint16(data[2:4], count)
	return PDU{Function: fc, Data: data}
}

// EncodeWriteSingleCoilPDU builds the PDU for FC 05. value true encodes as
// 0xFF00, false as 0x0000, per the standard.
func EncodeWriteSingleCoilPDU(address uint16, value bool) PDU {
	data := make([]byte, 4)
	putUint16(data[0:2], address)
	if value {
		putUint16(data[2:4], 0xFF00)
	}
	return PDU{Function: FuncWriteSingleCoil, Data: data}
}

// EncodeWriteSingleRegisterPDU builds the PDU for FC 06.
func EncodeWriteSingleRegisterPDU(address uint16, value uint16) PDU {
	data := make([]byte, 4)
	putUint16(data[0:2], address)
	putUint16(data[2:4], value)
	return PDU{Function: FuncWriteSingleRegister, Data: data}
}

// EncodeWriteMultipleRegistersPDU builds the PDU for FC 16.
func EncodeWriteMultipleRegistersPDU(start uint16, values []uint16) PDU {
	byteCount := len(values) * 2
	data := make([]byte, 5+byteCount)
	putUint16(data[0:2], start)
	putUint16(data[2:4], uint16(len(values)))
	data[4] = byte(byteCount)
	for i, v := range values {
		putUint16(data[5+i*2:7+i*2], v)
	}
	return PDU{Function: FuncWriteMultipleRegisters, Data: data}
}

// EncodeWriteMultipleCoilsPDU builds the PDU for FC 15.
func EncodeWriteMultipleCoilsPDU(start uint16, values []bool) PDU {
	byteCount := (len(values) + 7) / 8
	data := make([]byte, 5+byteCount)
	putUint16(data[0:2], start)
	putUint16(data[2:4], uint16(len(values)))
	data[4] = byte(byteCount)
	for i, v := range values {
		if v {
			data[5+i/8] |= 1 << uint(i%8)
		}
	}
	return PDU{Function: FuncWriteMultipleCoils, Data: data}
}

// DecodeRegisters extracts the register payload from a FC 03/04 response PDU.
func DecodeRegisters(p PDU) ([]byte, error) {
	if err := CheckException(p); err != nil {
		return nil, err
	}
	if len(p.Data) < 1 {
		return nil, comserr.New(comserr.Malformed, "empty register response")
	}
	count := int(p.Data[0])
	if len(p.Data) != count+1 {
		return nil, comserr.New(comserr.Malformed, "register response byte count mismatch: header says %d, got %d", count, len(p.Data)-1)
	}
	return p.Data[1:], nil
}

// DecodeCoils extracts the packed-bit payload from a FC 01/02 response PDU
// and unpacks it into one bool per requested coil.
func DecodeCoils(p PDU, count int) ([]bool, error) {
	if err := CheckException(p); err != nil {
		return nil, err
	}
	if len(p.Data) < 1 {
		return nil, comserr.New(comserr.Malformed, "empty coil response")
	}
	byteCount := int(p.Data[0])
	expected := (count + 7) / 8
	if byteCount != expected || len(p.Data) != byteCount+1 {
		return nil, comserr.New(comserr.Malformed, "coil response byte count mismatch: expected %d, got %d", expected, byteCount)
	}
	packed := p.Data[1:]
	bits := make([]bool, count)
	for i := range bits {
		bits[i] = packed[i/8]&(1<<uint(i%8)) != 0
	}
	return bits, nil
}

// DecodeWriteAck validates a write-acknowledgement PDU echoes the address and
// value/count that was requested, per the standard's loopback contract.
func DecodeWriteAck(p PDU, wantFunc FunctionCode, wantData []byte) error {
	if err := CheckException(p); err != nil {
		return err
	}
	if p.Function != wantFunc {
		return comserr.New(comserr.Malformed, "unexpected function in write ack: got 0x%02X, want 0x%02X", p.Function, wantFunc)
	}
	if len(p.Data) < 4 || len(wantData) < 4 {
		return comserr.New(comserr.Malformed, "write ack payload too short")
	}
	// Only address+count/value (first 4 bytes) are guaranteed echoed for
	// both single and multiple writes.
	for i := 0; i < 4; i++ {
		if p.Data[i] != wantData[i] {
			return comserr.New(comserr.Malformed, "write ack does not echo request")
		}
	}
	return nil
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func getUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
