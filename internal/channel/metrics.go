// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package channel

import "time"

// ewmaAlpha is the smoothing factor for avg_response_time_ms, spec §4.5.
const ewmaAlpha = 0.1

// Metrics is the Channel Status record of spec §3.5/§4.5: rolling counters
// updated on every request, read by the Supervisor's status API through a
// snapshot (see Status below), never locked against the scheduler.
type Metrics struct {
	RequestCount     uint64
	BytesTx          uint64
	BytesRx          uint64
	PacketErrors     uint64
	AvgResponseMs    float64
	LastErrorText    string
	LastSuccessTime  time.Time
	LastConnectTime  time.Time
	ConsecutiveFails int
}

// recordSuccess folds one successful request's byte counts and latency into
// the rolling metrics. ConsecutiveFails is the scheduler's whole-tick failure
// streak (advanced by poll(), reset on reconnect; spec §4.5's N=5
// threshold), not a per-request counter, so it is left untouched here.
func (m Metrics) recordSuccess(bytesTx, bytesRx int, latency time.Duration) Metrics {
	first := m.LastSuccessTime.IsZero()
	m.RequestCount++
	m.BytesTx += uint64(bytesTx)
	m.BytesRx += uint64(bytesRx)
	m.LastSuccessTime = time.Now()
	m.AvgResponseMs = ewma(m.AvgResponseMs, float64(latency.Milliseconds()), first)
	return m
}

// recordFailure folds one failed request into the rolling metrics. See
// recordSuccess: ConsecutiveFails is not touched here.
func (m Metrics) recordFailure(errText string) Metrics {
	m.RequestCount++
	m.PacketErrors++
	m.LastErrorText = errText
	return m
}

// ewma applies the spec's alpha=0.1 exponential moving average; the first
// sample seeds the average directly rather than blending against zero.
func ewma(prev, sample float64, first bool) float64 {
	if first {
		return sample
	}
	return ewmaAlpha*sample + (1-ewmaAlpha)*prev
}

// Status is an immutable snapshot of a Channel's Metrics plus lifecycle
// state, published by the scheduler goroutine and read via atomic.Value so
// Supervisor queries never block the scheduler for more than one cycle
// (spec §5).
type Status struct {
	ChannelID int
	Name      string
	State     State
	Metrics   Metrics
}
