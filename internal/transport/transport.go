// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package transport carries request/response bytes to a device over serial
// lines or TCP sockets, abstracted behind one interface per spec §4.1. It
// knows nothing about Modbus framing; see internal/modbus for that.
package transport

import (
	"context"
	"math/rand"
	"time"
)

// Transport is the byte-level duplex link to one device.
type Transport interface {
	// Connect establishes the link. Fails with a CONNECT_FAILED comserr.Error.
	Connect(ctx context.Context) error
	// Send writes all of b. Fails with an IO_ERROR comserr.Error on short
	// write or connection loss.
	Send(ctx context.Context, b []byte) error
	// RecvExact returns exactly n bytes or fails with TIMEOUT when deadline
	// elapses, IO_ERROR on link loss.
	RecvExact(ctx context.Context, n int, deadline time.Time) ([]byte, error)
	// Close idempotently releases the link.
	Close() error
	// Healthy reports whether the last operation succeeded; false after any
	// IO_ERROR until the next successful Connect.
	Healthy() bool
}

// Kind distinguishes the two transport specs carried in Channel configuration.
type Kind int

const (
	KindSerial Kind = iota
	KindTCP
)

// SerialSpec configures a serial-line Transport.
type SerialSpec struct {
	Port     string
	Baud     int
	Parity   string // "N", "E", "O"
	DataBits int
	StopBits int
}

// TCPSpec configures a TCP Transport.
type TCPSpec struct {
	Host string
	Port int
}

// Backoff computes the reconnect delay schedule from spec §4.1: initial
// 500ms, doubling per failure, capped at 30s, ±20% jitter applied by the
// caller (kept separate so tests can assert the unjittered sequence).
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff returns the spec's configured defaults.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the un-jittered delay for the given zero-based failure count.
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := b.Initial
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// Jitter spreads d by ±20% (spec §4.1), breaking the lockstep that would
// otherwise form between channels reconnecting to the same bus at the same
// unjittered delay. Kept separate from Delay so callers can assert the exact
// doubling/cap sequence without fighting randomness.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}
