// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package points implements the logical data-point model of spec §3/§4.3:
// typed points, address maps, read-plan coalescing, byte-order/scaling
// decode, and hot-reload via atomic model swap.
package points

import "github.com/circutor/comsrv/internal/modbus"

// Kind is the logical role of a point, per spec §3.
type Kind int

const (
	Telemetry Kind = iota // analog input
	Signal                // digital input
	Control               // digital output
	Setpoint              // analog output
)

// KindTag is the one-letter tag used in the flat KV key scheme (spec §6).
func (k Kind) KindTag() string {
	switch k {
	case Telemetry:
		return "m"
	case Signal:
		return "s"
	case Control:
		return "c"
	case Setpoint:
		return "a"
	default:
		return "?"
	}
}

// ScalarType is the wire scalar representation of a point's value.
type ScalarType int

const (
	Bool ScalarType = iota
	Int16
	UInt16
	Int32
	UInt32
	Float32
)

// BitLength returns sizeof(scalar)*8, or 1 for Bool (spec §3 invariant).
func (s ScalarType) BitLength() int {
	switch s {
	case Bool:
		return 1
	case Int16, UInt16:
		return 16
	case Int32, UInt32, Float32:
		return 32
	default:
		return 0
	}
}

// ByteOrder is the byte/word swap permutation applied to multi-register
// scalars, per spec §4.3 step 2.
type ByteOrder int

const (
	ABCD ByteOrder = iota // big-endian, no swap
	BADC                  // swap within each word
	CDAB                  // swap word order only
	DCBA                  // reverse all bytes
)

// ModbusAddress is the protocol-address record for a Modbus point (spec §3).
type ModbusAddress struct {
	UnitID       byte
	FunctionCode modbus.FunctionCode
	Address      uint16
	BitLength    int
}

// ObjectKind maps the point's function code to the Modbus object family the
// Point Model needs for coalescing reads.
func (a ModbusAddress) ObjectKind() modbus.ObjectKind {
	switch a.FunctionCode {
	case modbus.FuncReadCoils, modbus.FuncWriteSingleCoil, modbus.FuncWriteMultipleCoils:
		return modbus.ObjectCoil
	case modbus.FuncReadDiscreteInputs:
		return modbus.ObjectDiscreteInput
	case modbus.FuncReadInputRegisters:
		return modbus.ObjectInputRegister
	default:
		return modbus.ObjectHoldingRegister
	}
}

// RegisterCount is the number of 16-bit registers this address spans; 1 for
// coil-family objects regardless of BitLength since coils are bit-addressed.
func (a ModbusAddress) RegisterCount() int {
	switch a.ObjectKind() {
	case modbus.ObjectCoil, modbus.ObjectDiscreteInput:
		return 1
	default:
		n := a.BitLength / 16
		if n < 1 {
			n = 1
		}
		return n
	}
}

// ValidityRange is an optional engineering-unit bound; quality is tagged
// RANGE when a decoded value falls outside it (spec §4.3 step 5).
type ValidityRange struct {
	Min, Max float64
	Set      bool
}

// Point is one logical, addressable data item belonging to a channel.
type Point struct {
	ID          string
	Kind        Kind
	Scalar      ScalarType
	ByteOrder   ByteOrder
	Scale       float64
	Offset      float64
	Unit        string
	Range       ValidityRange
	Description string
	Address     ModbusAddress
}

// legalFunctionCodes enumerates the function codes a point's Kind may carry,
// per spec §3's "kind constrains legal function codes" invariant.
var legalFunctionCodes = map[Kind][]modbus.FunctionCode{
	Telemetry: {modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters},
	Signal:    {modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs},
	Control:   {modbus.FuncWriteSingleCoil, modbus.FuncWriteMultipleCoils, modbus.FuncReadCoils},
	Setpoint:  {modbus.FuncWriteSingleRegister, modbus.FuncWriteMultipleRegisters, modbus.FuncReadHoldingRegisters},
}

// ValidateAddress checks the kind/function-code invariant and the
// bit-length/scalar invariant from spec §3.
func (p Point) ValidateAddress() error {
	ok := false
	for _, fc := range legalFunctionCodes[p.Kind] {
		if fc == p.Address.FunctionCode {
			ok = true
			break
		}
	}
	if !ok {
		return errInvalidFunctionCode(p.Kind, p.Address.FunctionCode)
	}
	wantBits := p.Scalar.BitLength()
	if p.Scalar != Bool && p.Address.BitLength != wantBits {
		return errInvalidBitLength(p.ID, wantBits, p.Address.BitLength)
	}
	return nil
}
