// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package points

import (
	"github.com/circutor/comsrv/internal/comserr"
	"github.com/circutor/comsrv/internal/modbus"
)

func errInvalidFunctionCode(kind Kind, fc modbus.FunctionCode) error {
	return comserr.New(comserr.ConfigError, "point kind %d does not permit function code 0x%02X", kind, byte(fc))
}

func errInvalidBitLength(id string, want, got int) error {
	return comserr.New(comserr.ConfigError, "point %s: bit_length must be %d, got %d", id, want, got)
}
