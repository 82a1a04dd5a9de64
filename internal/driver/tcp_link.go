// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"time"

	"github.com/circutor/comsrv/internal/modbus"
	"github.com/circutor/comsrv/internal/transport"
)

// TCPLink performs one Modbus TCP (MBAP) request/response exchange.
type TCPLink struct {
	Transport transport.Transport
	Unit      byte // fixed unit id for TCP links that front a single gateway
	Alloc     *modbus.TransactionAllocator
	Framer    modbus.TCPFramer
}

// NewTCPLink builds a TCPLink over an already-connected TCP transport.
func NewTCPLink(tr transport.Transport, alloc *modbus.TransactionAllocator) *TCPLink {
	return &TCPLink{Transport: tr, Alloc: alloc}
}

func (l *TCPLink) RoundTrip(ctx context.Context, unit byte, pdu modbus.PDU, timeout time.Duration) (modbus.PDU, error) {
	txnID := l.Alloc.Next()
	frame := l.Framer.EncodeFrame(txnID, unit, pdu)
	if err := l.Transport.Send(ctx, frame); err != nil {
		return modbus.PDU{}, err
	}

	deadline := time.Now().Add(timeout)

	header, err := l.Transport.RecvExact(ctx, 7, deadline)
	if err != nil {
		return modbus.PDU{}, err
	}
	_, _, remaining, err := modbus.DecodeHeader(header)
	if err != nil {
		return modbus.PDU{}, err
	}

	tail, err := l.Transport.RecvExact(ctx, remaining, deadline)
	if err != nil {
		return modbus.PDU{}, err
	}

	full := append(header, tail...)
	respPDU, err := modbus.DecodeFrame(full, txnID)
	if err != nil {
		return modbus.PDU{}, err
	}
	if err := modbus.CheckException(respPDU); err != nil {
		return modbus.PDU{}, err
	}
	return respPDU, nil
}
