// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/circutor/comsrv/internal/comserr"
)

// TCPTransport is a Transport over a plain TCP socket, used for Modbus TCP.
type TCPTransport struct {
	spec TCPSpec

	mu      sync.Mutex
	conn    net.Conn
	healthy bool
}

// NewTCPTransport builds a TCPTransport for the given host/port.
func NewTCPTransport(spec TCPSpec) *TCPTransport {
	return &TCPTransport{spec: spec}
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", t.spec.Host, t.spec.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return comserr.Wrap(err, comserr.ConnectFailed)
	}
	t.mu.Lock()
	t.conn = conn
	t.healthy = true
	t.mu.Unlock()
	return nil
}

func (t *TCPTransport) Send(ctx context.Context, b []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return comserr.New(comserr.IOError, "transport not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	n, err := conn.Write(b)
	if err != nil || n != len(b) {
		t.markUnhealthy()
		if err == nil {
			err = io.ErrShortWrite
		}
		return comserr.Wrap(err, comserr.IOError)
	}
	return nil
}

func (t *TCPTransport) RecvExact(ctx context.Context, n int, deadline time.Time) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, comserr.New(comserr.IOError, "transport not connected")
	}
	_ = conn.SetReadDeadline(deadline)
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, comserr.Wrap(err, comserr.Timeout)
		}
		t.markUnhealthy()
		return nil, comserr.Wrap(err, comserr.IOError)
	}
	return buf, nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.healthy = false
	return err
}

func (t *TCPTransport) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy
}

func (t *TCPTransport) markUnhealthy() {
	t.mu.Lock()
	t.healthy = false
	t.mu.Unlock()
}
