// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the top-level owner of spec §4.7: it loads
// configuration, builds one Channel Runtime per enabled channel, routes
// reconfiguration diffs, and exposes a status snapshot. Grounded on the
// teacher's internal/cache/init.go (sync.Once-guarded singleton init) and
// internal/scheduler/manager.go (cron.Cron registry), regeneralized: the
// cron registry becomes a periodic status-snapshot heartbeat rather than a
// per-device command schedule, since comsrv's poll cadence is a plain
// interval owned by each Channel Runtime, not a cron expression.
package supervisor

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/circutor/comsrv/internal/channel"
	"github.com/circutor/comsrv/internal/comserr"
	"github.com/circutor/comsrv/internal/config"
	"github.com/circutor/comsrv/internal/modbus"
	"github.com/circutor/comsrv/internal/points"
	"github.com/circutor/comsrv/internal/publish"
)

// gracefulStopDeadline is the spec §4.7 default: removed/changed channels
// are given this long to stop cleanly before the Supervisor moves on.
const gracefulStopDeadline = 10 * time.Second

// heartbeatSchedule drives the periodic status-snapshot write independent of
// any channel's own poll cadence.
const heartbeatSchedule = "@every 30s"

type managedChannel struct {
	ch     *channel.Channel
	cancel context.CancelFunc
	cfg    config.ChannelConfig
}

// Supervisor owns the set of running Channels (spec §3 ownership summary).
type Supervisor struct {
	mu       sync.Mutex
	channels map[int]*managedChannel
	pub      *publish.Publisher
	log      *logrus.Entry
	cron     *cron.Cron
}

// New builds a Supervisor bound to a Publisher; the Publisher is shared
// across every channel and outlives individual reconfigure cycles.
func New(pub *publish.Publisher, log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{
		channels: make(map[int]*managedChannel),
		pub:      pub,
		log:      log,
		cron:     cron.New(),
	}
}

// Load builds and starts every enabled channel in cfg. A failure building
// one channel is logged and skipped; it never prevents the others from
// starting (spec §4.7).
func (s *Supervisor) Load(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chCfg := range cfg.Channels {
		if !chCfg.Enabled {
			continue
		}
		if err := s.startLocked(chCfg); err != nil {
			s.log.WithError(err).WithField("channel", chCfg.Name).Error("failed to start channel")
		}
	}

	if _, err := s.cron.AddFunc(heartbeatSchedule, s.heartbeat); err != nil {
		return comserr.Wrap(err, comserr.ConfigError)
	}
	s.cron.Start()
	return nil
}

// startLocked builds one channel.Channel and runs it in a new goroutine.
// Callers must hold s.mu.
func (s *Supervisor) startLocked(chCfg config.ChannelConfig) error {
	alloc := &modbus.TransactionAllocator{}
	tr, link, silence, err := buildTransport(chCfg.Transport, alloc)
	if err != nil {
		return err
	}
	model, err := buildModel(chCfg.PointTable, 0)
	if err != nil {
		return err
	}

	runCfg := channel.Config{
		ID:             chCfg.ID,
		Name:           chCfg.Name,
		PollInterval:   time.Duration(chCfg.PollIntervalMs) * time.Millisecond,
		RequestTimeout: time.Duration(chCfg.TimeoutMs) * time.Millisecond,
		RetryCount:     chCfg.RetryCount,
	}
	ch := channel.New(runCfg, tr, link, points.NewHolder(model), s.pub, silence, s.log)

	ctx, cancel := context.WithCancel(context.Background())
	go ch.Run(ctx)

	s.channels[chCfg.ID] = &managedChannel{ch: ch, cancel: cancel, cfg: chCfg}
	return nil
}

// Update computes the added/removed/changed channel set between the
// currently running channels and newCfg, and routes each to the
// corresponding action (spec §4.7's update(cfg_diff)).
func (s *Supervisor) Update(newCfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int]config.ChannelConfig, len(newCfg.Channels))
	for _, c := range newCfg.Channels {
		if c.Enabled {
			wanted[c.ID] = c
		}
	}

	for id, mc := range s.channels {
		if _, ok := wanted[id]; !ok {
			s.stopLocked(mc)
			delete(s.channels, id)
		}
	}

	for id, newChCfg := range wanted {
		mc, exists := s.channels[id]
		if !exists {
			if err := s.startLocked(newChCfg); err != nil {
				s.log.WithError(err).WithField("channel", newChCfg.Name).Error("failed to start new channel")
			}
			continue
		}

		if transportChanged(mc.cfg.Transport, newChCfg.Transport) || mc.cfg.Protocol != newChCfg.Protocol {
			s.stopLocked(mc)
			delete(s.channels, id)
			if err := s.startLocked(newChCfg); err != nil {
				s.log.WithError(err).WithField("channel", newChCfg.Name).Error("failed to restart changed channel")
			}
			continue
		}

		model, err := buildModel(newChCfg.PointTable, 0)
		if err != nil {
			s.log.WithError(err).WithField("channel", newChCfg.Name).Error("failed to build updated point model")
			continue
		}
		mc.ch.SwapModel(model)
		mc.cfg = newChCfg
	}

	return nil
}

func transportChanged(a, b config.TransportConfig) bool {
	return !reflect.DeepEqual(a, b)
}

// stopLocked cancels a channel's context and waits up to
// gracefulStopDeadline for it to finish tearing down; on timeout it logs and
// moves on without blocking the Supervisor further (spec §4.7's
// "force-stopped" after the deadline — the channel's own goroutine continues
// tearing down independently).
func (s *Supervisor) stopLocked(mc *managedChannel) {
	mc.cancel()
	select {
	case <-mc.ch.Done():
	case <-time.After(gracefulStopDeadline):
		s.log.WithField("channel", mc.cfg.Name).Warn("channel did not stop within deadline, force-stopping")
	}
}

// Shutdown stops every channel and flushes the Publisher (spec §4.7).
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Stop()
	for id, mc := range s.channels {
		s.stopLocked(mc)
		delete(s.channels, id)
	}
	if s.pub != nil {
		return s.pub.Close()
	}
	return nil
}

// Status returns a snapshot of every running channel's Status (spec §4.7).
func (s *Supervisor) Status() map[int]channel.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]channel.Status, len(s.channels))
	for id, mc := range s.channels {
		out[id] = mc.ch.Status()
	}
	return out
}

// heartbeat writes every channel's health record to the store on the
// cron-driven schedule, independent of each channel's own poll cadence.
func (s *Supervisor) heartbeat() {
	s.mu.Lock()
	snapshot := make(map[int]channel.Status, len(s.channels))
	for id, mc := range s.channels {
		snapshot[id] = mc.ch.Status()
	}
	s.mu.Unlock()

	if s.pub == nil {
		return
	}
	ctx := context.Background()
	for id, st := range snapshot {
		connected := st.State == channel.Running
		if err := s.pub.WriteStatus(ctx, id, connected, st.Metrics.LastSuccessTime, st.Metrics.RequestCount, st.Metrics.PacketErrors); err != nil {
			s.log.WithError(err).WithField("channel", st.Name).Warn("failed to write channel status")
		}
	}
}
