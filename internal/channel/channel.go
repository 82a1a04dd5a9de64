// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the Channel Runtime of spec §4.5: one
// cooperative task per logical device session, driving a poll scheduler and
// a command queue against a single Protocol Driver. A Channel exclusively
// owns its Transport, Driver and Point Model; no other goroutine touches
// them, so none of its per-channel state needs a lock beyond the command
// queue and the published Status snapshot. Grounded on the teacher's
// per-device map-with-mutex pattern in example/device-modbus/modbus.go,
// regeneralized into one owning goroutine per channel (Design Note 4).
package channel

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/circutor/comsrv/internal/comserr"
	"github.com/circutor/comsrv/internal/driver"
	"github.com/circutor/comsrv/internal/modbus"
	"github.com/circutor/comsrv/internal/points"
	"github.com/circutor/comsrv/internal/transport"
)

// State is the Channel Runtime lifecycle of spec §4.5.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Reconnecting
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Reconnecting:
		return "RECONNECTING"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// consecutiveFailureThreshold is spec §4.5's default N: this many poll ticks
// in a row, each with at least one whole-ReadGroup failure, push the channel
// into RECONNECTING. A tick counts once however many of its groups failed.
const consecutiveFailureThreshold = 5

// commandQueueDepth is the bounded FIFO capacity of spec §4.5/§5; a Submit
// against a full queue fails BUSY rather than blocking the caller.
const commandQueueDepth = 64

// Publisher is the narrow capability the Channel Runtime needs from
// internal/publish, kept as an interface here so this package does not
// import the Redis-specific implementation.
type Publisher interface {
	Publish(ctx context.Context, sample points.Sample) error
}

// Command is a write request queued on a Channel Runtime, spec §3.
type Command struct {
	PointID  string
	BoolVal  bool
	NumVal   float64
	IsBool   bool
	Confirm  bool
	Deadline time.Time

	result chan error
}

// Config carries the per-channel parameters a Channel needs at construction,
// distinct from internal/config's file-parsing shape.
type Config struct {
	ID             int
	Name           string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	RetryCount     int
}

// Channel is one logical device session: scheduler, command queue,
// lifecycle and metrics, exclusively owning its Transport/Driver/Model.
type Channel struct {
	cfg       Config
	transport transport.Transport
	link      driver.Link
	drv       *driver.Driver
	models    *points.Holder
	publisher Publisher
	log       *logrus.Entry

	// interFrameSilence is nonzero only for RTU links (spec §4.1/§4.4: a
	// retry must wait at least one silent interval before resending).
	interFrameSilence time.Duration

	cmdQueue chan Command

	state   atomic.Int32
	status  atomic.Value // Status
	metrics Metrics

	stopped chan struct{}
}

// New builds a Channel ready to Run. link must already be bound to an
// open/openable transport; interFrameSilence should be the Transport's
// InterFrameSilence() for RTU links, zero for TCP.
func New(cfg Config, tr transport.Transport, link driver.Link, model *points.Holder, pub Publisher, interFrameSilence time.Duration, log *logrus.Entry) *Channel {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = driver.DefaultRetryCount
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Channel{
		cfg:               cfg,
		transport:         tr,
		link:              link,
		drv:               driver.New(link, cfg.RetryCount, log.WithField("channel", cfg.Name)),
		models:            model,
		publisher:         pub,
		log:               log.WithField("channel", cfg.Name),
		interFrameSilence: interFrameSilence,
		cmdQueue:          make(chan Command, commandQueueDepth),
		stopped:           make(chan struct{}),
	}
	c.state.Store(int32(Stopped))
	c.publishStatus()
	return c
}

// Done returns a channel closed once Run has fully torn down.
func (c *Channel) Done() <-chan struct{} {
	return c.stopped
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Status returns the last-published Status snapshot; safe to call from any
// goroutine, including while Run is executing (spec §5 snapshot guarantee).
func (c *Channel) Status() Status {
	return c.status.Load().(Status)
}

// SwapModel replaces the Point Model in use, per spec §4.3's hot-reload
// semantics: in-flight reads keep the Model they started with, the next
// scheduling tick picks up the new one.
func (c *Channel) SwapModel(m *points.Model) {
	c.models.Swap(m)
}

// Submit enqueues a Command for this channel's next processing opportunity.
// Non-blocking: returns a BUSY comserr.Error if the queue is full (spec §4.5).
// If cmd.Confirm is set, Submit blocks until the Driver reports the write's
// outcome (spec §9 Open Question iii: confirm is a best-effort synchronous
// wait, not a distinct protocol).
func (c *Channel) Submit(ctx context.Context, cmd Command) error {
	if cmd.Confirm {
		cmd.result = make(chan error, 1)
	}
	select {
	case c.cmdQueue <- cmd:
	default:
		return comserr.New(comserr.Busy, "channel %s command queue full", c.cfg.Name)
	}
	if cmd.result == nil {
		return nil
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return comserr.Wrap(ctx.Err(), comserr.Cancelled)
	}
}

// Run drives the scheduler and command queue until ctx is cancelled. It
// returns once the channel has torn down cleanly: transport closed, queued
// commands drained with CANCELLED replies.
func (c *Channel) Run(ctx context.Context) {
	c.setState(Starting)
	if err := c.connect(ctx); err != nil {
		c.log.WithError(err).Warn("initial connect failed, entering reconnect loop")
		c.setState(Reconnecting)
	} else {
		c.setState(Running)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	defer close(c.stopped)
	defer c.transport.Close()

	for {
		select {
		case <-ctx.Done():
			c.setState(Stopping)
			c.drainCommands()
			c.setState(Stopped)
			return

		case cmd := <-c.cmdQueue:
			if c.State() == Reconnecting {
				c.reconnectLoop(ctx)
			}
			c.handleCommand(ctx, cmd)

		case <-ticker.C:
			if c.State() == Reconnecting {
				c.reconnectLoop(ctx)
				continue
			}
			c.poll(ctx)
		}
	}
}

func (c *Channel) connect(ctx context.Context) error {
	err := c.transport.Connect(ctx)
	if err == nil {
		c.metrics.LastConnectTime = time.Now()
		c.publishStatus()
	}
	return err
}

// reconnectLoop blocks (cancellably) until the transport is reconnected,
// applying the spec §4.1 backoff schedule.
func (c *Channel) reconnectLoop(ctx context.Context) {
	backoff := transport.DefaultBackoff()
	failures := 0
	for {
		if err := c.connect(ctx); err == nil {
			c.setState(Running)
			c.metrics.ConsecutiveFails = 0
			return
		}
		delay := transport.Jitter(backoff.Delay(failures))
		failures++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// poll runs one full scheduling tick: plan reads, submit each ReadGroup,
// decode samples, hand them to the Publisher. If the loop body takes longer
// than the poll interval, the next tick fires immediately (the ticker does
// not queue missed ticks; see time.Ticker semantics).
func (c *Channel) poll(ctx context.Context) {
	model := c.models.Load()
	groups := model.PlanReads()

	failedGroups := 0
	for _, g := range groups {
		if err := c.pollGroup(ctx, g); err != nil {
			failedGroups++
		}
		c.drainReadyCommand(ctx)
	}
	if failedGroups > 0 {
		c.metrics.ConsecutiveFails++
	} else {
		c.metrics.ConsecutiveFails = 0
	}
	if c.metrics.ConsecutiveFails >= consecutiveFailureThreshold {
		c.log.Warn("consecutive read-group failures reached threshold, reconnecting")
		c.setState(Reconnecting)
		c.transport.Close()
	}
	c.publishStatus()
}

// pollGroup executes one ReadGroup and publishes its decoded (or
// quality-tagged failed) samples. It returns an error only to let the caller
// count whole-group failures toward the reconnect threshold; per-point
// decode errors never propagate (spec §7: absorbed into quality tags).
func (c *Channel) pollGroup(ctx context.Context, g points.ReadGroup) error {
	pdu := modbus.EncodeReadPDU(g.FunctionCode, g.Start, uint16(g.Count))
	start := time.Now()
	resp, _, err := c.drv.Execute(ctx, g.UnitID, pdu, c.cfg.RequestTimeout, c.interFrameSilence)
	latency := time.Since(start)

	if err != nil {
		c.metrics = c.metrics.recordFailure(err.Error())
		c.publishCommFail(ctx, g)
		return err
	}
	c.metrics = c.metrics.recordSuccess(len(pdu.Data)+2, len(resp.Data)+2, latency)

	samples, decodeErr := decodeGroup(g, resp)
	if decodeErr != nil {
		c.publishCommFail(ctx, g)
		return decodeErr
	}
	for _, s := range samples {
		s.ChannelID = c.cfg.ID
		s.Timestamp = points.Now()
		c.publisher.Publish(ctx, s)
	}
	return nil
}

// drainReadyCommand services at most one already-queued Command between
// ReadGroups of a poll tick, per spec §4.5's interleaving requirement: a
// command submitted mid-tick is serviced after the in-flight ReadGroup
// rather than waiting for the whole tick to finish. Non-blocking: if the
// queue is empty it returns immediately.
func (c *Channel) drainReadyCommand(ctx context.Context) {
	select {
	case cmd := <-c.cmdQueue:
		c.handleCommand(ctx, cmd)
	default:
	}
}

func decodeGroup(g points.ReadGroup, resp modbus.PDU) ([]points.Sample, error) {
	objKind := g.Points[0].Point.Address.ObjectKind()
	var samples []points.Sample

	switch objKind {
	case modbus.ObjectCoil, modbus.ObjectDiscreteInput:
		bits, err := modbus.DecodeCoils(resp, g.Count)
		if err != nil {
			return nil, err
		}
		for _, gp := range g.Points {
			samples = append(samples, points.DecodeCoilSample(gp.Point, bits[gp.Offset]))
		}
	default:
		payload, err := modbus.DecodeRegisters(resp)
		if err != nil {
			return nil, err
		}
		for _, gp := range g.Points {
			s, err := points.Decode(gp.Point, gp.Offset, payload)
			if err != nil {
				samples = append(samples, points.Sample{PointID: gp.Point.ID, Kind: gp.Point.Kind, Quality: points.CommFail})
				continue
			}
			samples = append(samples, s)
		}
	}
	return samples, nil
}

// publishCommFail tags every point in a failed ReadGroup COMM_FAIL and hands
// the samples to the Publisher, per spec §4.5 failure semantics.
func (c *Channel) publishCommFail(ctx context.Context, g points.ReadGroup) {
	for _, gp := range g.Points {
		s := points.Sample{
			ChannelID: c.cfg.ID,
			PointID:   gp.Point.ID,
			Kind:      gp.Point.Kind,
			Quality:   points.CommFail,
			Timestamp: points.Now(),
		}
		c.publisher.Publish(ctx, s)
	}
}

// handleCommand executes one queued write Command, publishes a confirmation
// Sample under the point's normal key (spec §9 Open Question i) whether or
// not Confirm was set, and, if Confirm was requested, replies on its result
// channel.
func (c *Channel) handleCommand(ctx context.Context, cmd Command) {
	correlationID := uuid.NewString()
	model := c.models.Load()
	p, ok := model.Get(cmd.PointID)
	if !ok {
		c.replyCommand(cmd, comserr.New(comserr.ConfigError, "unknown point %s", cmd.PointID))
		return
	}

	pdu, err := encodeCommand(p, cmd)
	if err != nil {
		c.replyCommand(cmd, err)
		return
	}

	deadline := cmd.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(c.cfg.RequestTimeout)
	}
	timeout := time.Until(deadline)

	resp, _, execErr := c.drv.Execute(ctx, p.Address.UnitID, pdu, timeout, c.interFrameSilence)
	if execErr == nil {
		execErr = modbus.DecodeWriteAck(resp, pdu.Function, pdu.Data)
	}
	quality := points.Good
	if execErr != nil {
		quality = points.CommFail
		c.metrics = c.metrics.recordFailure(execErr.Error())
	} else {
		c.metrics = c.metrics.recordSuccess(len(pdu.Data)+2, 8, 0)
	}

	value := cmd.NumVal
	if cmd.IsBool {
		if cmd.BoolVal {
			value = 1
		} else {
			value = 0
		}
	}
	c.publisher.Publish(ctx, points.Sample{
		ChannelID:     c.cfg.ID,
		PointID:       p.ID,
		Kind:          p.Kind,
		Engineering:   value,
		Quality:       quality,
		Timestamp:     points.Now(),
		CorrelationID: correlationID,
	})

	c.replyCommand(cmd, execErr)
}

// encodeCommand builds the write PDU for a queued Command, picking the wire
// function code from the point's configured FunctionCode (never inferring it
// from value width) and, for multi-register SETPOINTs, applying the point's
// ByteOrder to the encoded scalar before splitting it into registers (spec
// §4.3 step 2's encode-side inverse, §8 scenario 2).
func encodeCommand(p points.Point, cmd Command) (modbus.PDU, error) {
	switch p.Address.FunctionCode {
	case modbus.FuncWriteSingleCoil:
		return modbus.EncodeWriteSingleCoilPDU(p.Address.Address, cmd.BoolVal), nil

	case modbus.FuncWriteMultipleCoils:
		return modbus.EncodeWriteMultipleCoilsPDU(p.Address.Address, []bool{cmd.BoolVal}), nil

	case modbus.FuncWriteSingleRegister:
		wire, err := encodeRegisterBytes(p, cmd.NumVal)
		if err != nil {
			return modbus.PDU{}, err
		}
		return modbus.EncodeWriteSingleRegisterPDU(p.Address.Address, binary.BigEndian.Uint16(wire)), nil

	case modbus.FuncWriteMultipleRegisters:
		wire, err := encodeRegisterBytes(p, cmd.NumVal)
		if err != nil {
			return modbus.PDU{}, err
		}
		values := make([]uint16, len(wire)/2)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(wire[i*2 : i*2+2])
		}
		return modbus.EncodeWriteMultipleRegistersPDU(p.Address.Address, values), nil

	default:
		return modbus.PDU{}, comserr.New(comserr.ConfigError, "point %s has no write function code", p.ID)
	}
}

// encodeRegisterBytes converts an engineering-unit command value into
// wire-order register bytes: undo scale+offset, pack the scalar big-endian,
// then permute to the point's ByteOrder.
func encodeRegisterBytes(p points.Point, engineering float64) ([]byte, error) {
	raw := engineering
	if p.Scale != 0 {
		raw = (engineering - p.Offset) / p.Scale
	}
	combined, err := points.EncodeScalar(raw, p.Scalar)
	if err != nil {
		return nil, err
	}
	return points.EncodeBytes(combined, p.ByteOrder), nil
}

func (c *Channel) replyCommand(cmd Command, err error) {
	if cmd.result != nil {
		cmd.result <- err
	}
}

// drainCommands replies CANCELLED to every command left in the queue at
// shutdown, per spec §5's suspension-point teardown contract.
func (c *Channel) drainCommands() {
	for {
		select {
		case cmd := <-c.cmdQueue:
			c.replyCommand(cmd, comserr.New(comserr.Cancelled, "channel stopping"))
		default:
			return
		}
	}
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	c.publishStatus()
}

func (c *Channel) publishStatus() {
	c.status.Store(Status{
		ChannelID: c.cfg.ID,
		Name:      c.cfg.Name,
		State:     c.State(),
		Metrics:   c.metrics,
	})
}
