// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018-2019 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package comserr defines the error taxonomy shared by every comsrv component.
// Errors carry a Kind so callers can branch on classification without string
// matching, while still composing with github.com/pkg/errors for wrapping and
// stack traces.
package comserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way a device-service channel can react to it.
type Kind int

const (
	// Unknown is the zero value; never returned by comsrv code on purpose.
	Unknown Kind = iota
	ConfigError
	ConnectFailed
	IOError
	Timeout
	CRCError
	Malformed
	UnexpectedFunction
	ProtocolException
	Range
	Busy
	Cancelled
	NotImplemented
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "CONFIG_ERROR"
	case ConnectFailed:
		return "CONNECT_FAILED"
	case IOError:
		return "IO_ERROR"
	case Timeout:
		return "TIMEOUT"
	case CRCError:
		return "CRC_ERROR"
	case Malformed:
		return "MALFORMED"
	case UnexpectedFunction:
		return "UNEXPECTED_FUNCTION"
	case ProtocolException:
		return "PROTOCOL_EXCEPTION"
	case Range:
		return "RANGE"
	case Busy:
		return "BUSY"
	case Cancelled:
		return "CANCELLED"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error type returned by comsrv components.
type Error struct {
	kind Kind
	// ExceptionCode is only meaningful when Kind == ProtocolException.
	ExceptionCode uint8
	cause         error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return fmt.Sprintf("%s: %v", e.kind.String(), e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Cause exposes the wrapped error for github.com/pkg/errors.Cause callers.
func (e *Error) Cause() error {
	return e.cause
}

// New creates a bare comserr.Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(err error, kind Kind) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, cause: errors.WithStack(err)}
}

// Exception builds a PROTOCOL_EXCEPTION error carrying the device's exception code.
func Exception(code uint8) *Error {
	return &Error{kind: ProtocolException, ExceptionCode: code, cause: errors.Errorf("device exception code %d", code)}
}

// KindOf extracts the Kind from err, returning Unknown if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.kind
	}
	return Unknown
}

// Is reports whether err is (or wraps) a comserr.Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the state machine in §4.4 should retry on this
// error kind: TIMEOUT and CRC_ERROR/MALFORMED are retried, PROTOCOL_EXCEPTION
// never is.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Timeout, CRCError, Malformed:
		return true
	default:
		return false
	}
}
