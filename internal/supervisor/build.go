// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"strings"
	"time"

	"github.com/circutor/comsrv/internal/comserr"
	"github.com/circutor/comsrv/internal/config"
	"github.com/circutor/comsrv/internal/driver"
	"github.com/circutor/comsrv/internal/modbus"
	"github.com/circutor/comsrv/internal/points"
	"github.com/circutor/comsrv/internal/transport"
)

// buildTransport translates a config.TransportConfig into the concrete
// Transport and Link the channel's protocol driver needs, per spec §6's
// configuration shape.
func buildTransport(tc config.TransportConfig, alloc *modbus.TransactionAllocator) (transport.Transport, driver.Link, time.Duration, error) {
	switch strings.ToUpper(tc.Kind) {
	case "SERIAL":
		spec := transport.SerialSpec{
			Port: tc.Port, Baud: tc.Baud, Parity: tc.Parity,
			DataBits: tc.DataBits, StopBits: tc.StopBits,
		}
		tr := transport.NewSerialTransport(spec)
		return tr, driver.NewRTULink(tr), tr.InterFrameSilence(), nil
	case "TCP":
		spec := transport.TCPSpec{Host: tc.Host, Port: tc.TCPPort}
		tr := transport.NewTCPTransport(spec)
		return tr, driver.NewTCPLink(tr, alloc), 0, nil
	default:
		return nil, nil, 0, comserr.New(comserr.ConfigError, "unrecognized transport kind %q", tc.Kind)
	}
}

// buildModel translates a channel's point table into a points.Model,
// validating each row's kind/function-code/bit-length invariants (spec §3).
func buildModel(rows []config.PointRecord, coalesceGap int) (*points.Model, error) {
	m := points.NewModel()
	m.CoalesceGap = coalesceGap
	for _, rec := range rows {
		p, err := buildPoint(rec)
		if err != nil {
			return nil, err
		}
		if err := m.Upsert(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func buildPoint(rec config.PointRecord) (points.Point, error) {
	kind, err := parseKind(rec.Kind)
	if err != nil {
		return points.Point{}, err
	}
	scalar, err := parseScalar(rec.ScalarType)
	if err != nil {
		return points.Point{}, err
	}
	order := parseByteOrder(rec.ByteOrder)

	rng := points.ValidityRange{}
	if rec.Min != nil && rec.Max != nil {
		rng = points.ValidityRange{Min: *rec.Min, Max: *rec.Max, Set: true}
	}

	return points.Point{
		ID:          rec.ID,
		Kind:        kind,
		Scalar:      scalar,
		ByteOrder:   order,
		Scale:       rec.Scale,
		Offset:      rec.Offset,
		Unit:        rec.Unit,
		Range:       rng,
		Description: rec.Description,
		Address: points.ModbusAddress{
			UnitID:       rec.UnitID,
			FunctionCode: modbus.FunctionCode(rec.FunctionCode),
			Address:      rec.Address,
			BitLength:    rec.BitLength,
		},
	}, nil
}

func parseKind(s string) (points.Kind, error) {
	switch strings.ToUpper(s) {
	case "TELEMETRY":
		return points.Telemetry, nil
	case "SIGNAL":
		return points.Signal, nil
	case "CONTROL":
		return points.Control, nil
	case "SETPOINT":
		return points.Setpoint, nil
	default:
		return 0, comserr.New(comserr.ConfigError, "unrecognized point kind %q", s)
	}
}

func parseScalar(s string) (points.ScalarType, error) {
	switch strings.ToUpper(s) {
	case "BOOL":
		return points.Bool, nil
	case "INT16":
		return points.Int16, nil
	case "UINT16":
		return points.UInt16, nil
	case "INT32":
		return points.Int32, nil
	case "UINT32":
		return points.UInt32, nil
	case "FLOAT32":
		return points.Float32, nil
	default:
		return 0, comserr.New(comserr.ConfigError, "unrecognized scalar type %q", s)
	}
}

func parseByteOrder(s string) points.ByteOrder {
	switch strings.ToUpper(s) {
	case "BADC":
		return points.BADC
	case "CDAB":
		return points.CDAB
	case "DCBA":
		return points.DCBA
	default:
		return points.ABCD
	}
}
