// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"time"

	"github.com/circutor/comsrv/internal/comserr"
	"github.com/circutor/comsrv/internal/modbus"
	"github.com/circutor/comsrv/internal/transport"
)

// RTULink performs one Modbus RTU request/response exchange: encode, send,
// read the reply header to learn its length, read the remainder, validate
// CRC, and split unit/PDU.
type RTULink struct {
	Transport transport.Transport
	Framer    modbus.RTUFramer
}

// NewRTULink builds an RTULink over an already-connected serial transport.
func NewRTULink(tr transport.Transport) *RTULink {
	return &RTULink{Transport: tr}
}

func (l *RTULink) RoundTrip(ctx context.Context, unit byte, pdu modbus.PDU, timeout time.Duration) (modbus.PDU, error) {
	frame := l.Framer.EncodeFrame(unit, pdu)
	if err := l.Transport.Send(ctx, frame); err != nil {
		return modbus.PDU{}, err
	}

	deadline := time.Now().Add(timeout)

	// The first 3 bytes of any RTU response (unit, function code, and
	// either a byte count or the first data byte) are enough to compute
	// how many more bytes the frame will be.
	head, err := l.Transport.RecvExact(ctx, 3, deadline)
	if err != nil {
		return modbus.PDU{}, err
	}

	remaining := rtuRemainingBytes(modbus.FunctionCode(head[1]), head[2])
	tail, err := l.Transport.RecvExact(ctx, remaining, deadline)
	if err != nil {
		return modbus.PDU{}, err
	}

	full := append(head, tail...)
	respUnit, respPDU, err := l.Framer.DecodeFrame(full)
	if err != nil {
		return modbus.PDU{}, err
	}
	if respUnit != unit {
		return modbus.PDU{}, comserr.New(comserr.UnexpectedFunction, "RTU response unit id %d does not match request unit %d", respUnit, unit)
	}
	if err := modbus.CheckException(respPDU); err != nil {
		return modbus.PDU{}, err
	}
	return respPDU, nil
}

// rtuRemainingBytes returns how many bytes follow the first 3 already read,
// up to and including the trailing CRC, given the function code and the
// third byte of the frame (a byte count for read replies, the first data
// byte otherwise).
func rtuRemainingBytes(fc modbus.FunctionCode, third byte) int {
	if fc&0x80 != 0 {
		// Exception reply: unit, fc, exception code, crc(2) = 5 bytes total.
		return 5 - 3
	}
	switch fc {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs,
		modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		// third is the byte count; remaining = byteCount data bytes + crc(2).
		return int(third) + 2
	default:
		// Write acks (05/06/15/16) echo a fixed 4-byte address+value/count
		// field: unit, fc, 4 data bytes, crc(2) = 8 bytes total.
		return 8 - 3
	}
}
