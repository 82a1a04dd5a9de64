// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package driver runs one Modbus request/response cycle to completion,
// applying the retry state machine of spec §4.4 on top of a transport.Link.
// It owns no scheduling (see internal/channel) and no framing (see
// internal/modbus); it only sequences encode -> send -> recv -> decode and
// decides whether to retry, matching the shape of the teacher's
// ModbusDriver.HandleReadCommands/HandleWriteCommands but generalized from a
// one-shot call into an explicit, testable state machine.
package driver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/circutor/comsrv/internal/comserr"
	"github.com/circutor/comsrv/internal/modbus"
)

// State names the Protocol Driver's retry state machine (spec §4.4).
type State int

const (
	StateIdle State = iota
	StateAwaitResponse
	StateDone
	StateRetry
	StateFailTimeout
	StateFailCRC
	StateFailException
	StateFailIO
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitResponse:
		return "AWAIT_RESPONSE"
	case StateDone:
		return "DONE"
	case StateRetry:
		return "RETRY"
	case StateFailTimeout:
		return "FAIL_TIMEOUT"
	case StateFailCRC:
		return "FAIL_CRC"
	case StateFailException:
		return "FAIL_EXCEPTION"
	case StateFailIO:
		return "FAIL_IO"
	default:
		return "UNKNOWN"
	}
}

// DefaultRetryCount is the spec §4.4 default for RetriesLeft when a channel
// does not override it.
const DefaultRetryCount = 3

// Link performs one request/response exchange over a connected transport,
// returning the decoded response PDU or a comserr.Error classifying the
// failure (TIMEOUT, CRC_ERROR, IO_ERROR, PROTOCOL_EXCEPTION, MALFORMED).
// RTULink and TCPLink are the two implementations.
type Link interface {
	RoundTrip(ctx context.Context, unit byte, pdu modbus.PDU, timeout time.Duration) (modbus.PDU, error)
}

// Driver runs requests against one Link, applying the spec §4.4 retry rules:
// retry on TIMEOUT or CRC_ERROR/MALFORMED, never on PROTOCOL_EXCEPTION; the
// original attempt is followed by up to RetryCount retries.
type Driver struct {
	Link       Link
	RetryCount int
	Log        *logrus.Entry
}

// New builds a Driver with the given Link and retry budget. A retryCount of
// 0 uses DefaultRetryCount.
func New(link Link, retryCount int, log *logrus.Entry) *Driver {
	if retryCount <= 0 {
		retryCount = DefaultRetryCount
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{Link: link, RetryCount: retryCount, Log: log}
}

// Attempt records the outcome of one try, for diagnostics and tests.
type Attempt struct {
	State State
	Err   error
}

// Execute runs unit/pdu to completion against d.Link, retrying per the state
// machine above. It returns the first successful response, or the last
// failure's error once retries are exhausted. interFrameSilence, when
// nonzero, is waited before every retry (RTU requires at least one silent
// interval between frames; TCP links pass 0).
func (d *Driver) Execute(ctx context.Context, unit byte, pdu modbus.PDU, timeout, interFrameSilence time.Duration) (modbus.PDU, []Attempt, error) {
	var history []Attempt
	state := StateIdle

	for attempt := 0; attempt <= d.RetryCount; attempt++ {
		state = StateAwaitResponse
		resp, err := d.Link.RoundTrip(ctx, unit, pdu, timeout)
		if err == nil {
			history = append(history, Attempt{State: StateDone})
			return resp, history, nil
		}

		state = classify(err)
		history = append(history, Attempt{State: state, Err: err})

		if !comserr.Retryable(err) {
			d.Log.WithFields(logrus.Fields{"unit": unit, "function": pdu.Function, "state": state.String()}).
				Warn("modbus request failed, not retryable")
			return modbus.PDU{}, history, err
		}

		if attempt == d.RetryCount {
			break
		}

		d.Log.WithFields(logrus.Fields{"unit": unit, "function": pdu.Function, "attempt": attempt + 1, "state": state.String()}).
			Debug("modbus request failed, retrying")

		if interFrameSilence > 0 {
			select {
			case <-ctx.Done():
				return modbus.PDU{}, history, comserr.Wrap(ctx.Err(), comserr.Cancelled)
			case <-time.After(interFrameSilence):
			}
		}
	}

	return modbus.PDU{}, history, history[len(history)-1].Err
}

func classify(err error) State {
	switch comserr.KindOf(err) {
	case comserr.Timeout:
		return StateFailTimeout
	case comserr.CRCError:
		return StateFailCRC
	case comserr.ProtocolException:
		return StateFailException
	case comserr.IOError:
		return StateFailIO
	default:
		return StateRetry
	}
}
