// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/circutor/comsrv/internal/comserr"
	"github.com/goburrow/serial"
)

// SerialTransport is a Transport over a serial line, used for Modbus RTU.
// It is built on github.com/goburrow/serial, the same library the teacher
// depends on (indirectly, through goburrow/modbus).
type SerialTransport struct {
	spec SerialSpec

	mu      sync.Mutex
	port    io.ReadWriteCloser
	healthy bool

	// CharTime is the nominal duration of one serial character at the
	// configured baud/parity/stop-bits, used by the driver to size
	// inter-frame silence windows (spec §4.1, §9 Open Question ii).
	CharTime time.Duration
}

// NewSerialTransport builds a SerialTransport for the given line parameters.
func NewSerialTransport(spec SerialSpec) *SerialTransport {
	return &SerialTransport{spec: spec, CharTime: charTime(spec)}
}

// charTime computes the nominal duration of one character (start bit + data
// bits + parity + stop bits) at the configured baud rate.
func charTime(spec SerialSpec) time.Duration {
	bits := 1 + spec.DataBits + spec.StopBits
	if spec.Parity != "N" {
		bits++
	}
	if spec.Baud <= 0 {
		return 0
	}
	return time.Duration(float64(bits) / float64(spec.Baud) * float64(time.Second))
}

// InterFrameSilence returns the RTU frame-boundary silence per spec §4.1/§9:
// 3.5 character-times, floored at 1.75ms (the standard's own fallback for
// baud rates above 19200, per Design decision ii in DESIGN.md).
func (s *SerialTransport) InterFrameSilence() time.Duration {
	d := time.Duration(3.5 * float64(s.CharTime))
	const floor = 1750 * time.Microsecond
	if d < floor {
		return floor
	}
	return d
}

// InterCharTimeout returns the maximum tolerated gap between bytes within a
// frame: 1.5 character-times, floored at 750us.
func (s *SerialTransport) InterCharTimeout() time.Duration {
	d := time.Duration(1.5 * float64(s.CharTime))
	const floor = 750 * time.Microsecond
	if d < floor {
		return floor
	}
	return d
}

func (s *SerialTransport) Connect(ctx context.Context) error {
	cfg := &serial.Config{
		Address:  s.spec.Port,
		BaudRate: s.spec.Baud,
		DataBits: s.spec.DataBits,
		StopBits: s.spec.StopBits,
		Parity:   s.spec.Parity,
		Timeout:  s.InterCharTimeout(),
	}
	port, err := serial.Open(cfg)
	if err != nil {
		return comserr.Wrap(err, comserr.ConnectFailed)
	}
	s.mu.Lock()
	s.port = port
	s.healthy = true
	s.mu.Unlock()
	return nil
}

func (s *SerialTransport) Send(ctx context.Context, b []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return comserr.New(comserr.IOError, "transport not connected")
	}
	n, err := port.Write(b)
	if err != nil || n != len(b) {
		s.markUnhealthy()
		if err == nil {
			err = io.ErrShortWrite
		}
		return comserr.Wrap(err, comserr.IOError)
	}
	return nil
}

func (s *SerialTransport) RecvExact(ctx context.Context, n int, deadline time.Time) ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, comserr.New(comserr.IOError, "transport not connected")
	}

	buf := make([]byte, 0, n)
	chunk := make([]byte, n)
	for len(buf) < n {
		if time.Now().After(deadline) {
			return nil, comserr.New(comserr.Timeout, "timed out waiting for %d bytes, got %d", n, len(buf))
		}
		read, err := port.Read(chunk[:n-len(buf)])
		if err == serial.ErrTimeout {
			// The port's own read timeout is only the inter-character gap;
			// keep waiting until the request deadline checked above.
			continue
		}
		if err != nil {
			s.markUnhealthy()
			return nil, comserr.Wrap(err, comserr.IOError)
		}
		buf = append(buf, chunk[:read]...)
	}
	return buf, nil
}

func (s *SerialTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.healthy = false
	return err
}

func (s *SerialTransport) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *SerialTransport) markUnhealthy() {
	s.mu.Lock()
	s.healthy = false
	s.mu.Unlock()
}
