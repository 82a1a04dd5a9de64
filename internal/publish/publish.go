// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package publish implements the Publisher of spec §4.6: batched writes of
// decoded Samples into the external key/value store's flat key scheme,
// pub/sub change notifications, and the channel health record. Grounded on
// the teacher's internal/clients/init.go shape (validate config -> build
// client -> check availability), regeneralized from EdgeX's Core Data/
// Metadata HTTP clients to a single github.com/redis/go-redis/v9 client,
// the pack's external-store dependency.
package publish

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/circutor/comsrv/internal/comserr"
	"github.com/circutor/comsrv/internal/config"
	"github.com/circutor/comsrv/internal/points"
	"github.com/circutor/comsrv/internal/transport"
)

// Batch tuning from spec §4.6: flush at K samples or max_wait, whichever is sooner.
const (
	batchSize    = 200
	maxWait      = 20 * time.Millisecond
	availability = 3 // availability-check retries, mirrors teacher's checkServiceAvailable
)

// Publisher batches Samples and writes them to Redis under the flat key
// scheme of spec §6, preserving per-channel FIFO order and emitting a
// pub/sub notification after each successful write.
type Publisher struct {
	client *redis.Client
	log    *logrus.Entry
	backoff transport.Backoff

	mu  sync.Mutex
	buf []points.Sample

	flush chan struct{}
	done  chan struct{}
	stop  chan struct{}
}

// New validates cfg, builds the Redis client, and confirms it is reachable,
// mirroring the teacher's validateClientConfig -> initializeClients ->
// checkServiceAvailable sequence.
func New(cfg config.KVStoreConfig, log *logrus.Entry) (*Publisher, error) {
	if cfg.Address == "" {
		return nil, comserr.New(comserr.ConfigError, "KVStore.Address must be set")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := checkAvailable(client); err != nil {
		return nil, err
	}

	p := &Publisher{
		client:  client,
		log:     log,
		backoff: transport.DefaultBackoff(),
		flush:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func checkAvailable(client *redis.Client) error {
	var lastErr error
	for i := 0; i < availability; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return comserr.Wrap(lastErr, comserr.ConnectFailed)
}

// Publish enqueues s for the next batch flush; non-blocking for the caller
// (spec §4.6). The internal buffer append is the only mutex-held section,
// bounded by batch size (spec §5).
func (p *Publisher) Publish(ctx context.Context, s points.Sample) error {
	p.mu.Lock()
	p.buf = append(p.buf, s)
	full := len(p.buf) >= batchSize
	p.mu.Unlock()

	if full {
		select {
		case p.flush <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close flushes any remaining samples and shuts down the background flusher.
func (p *Publisher) Close() error {
	close(p.stop)
	<-p.done
	p.flushNow(context.Background())
	return p.client.Close()
}

func (p *Publisher) run() {
	defer close(p.done)
	ticker := time.NewTicker(maxWait)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-p.flush:
			p.flushNow(context.Background())
		case <-ticker.C:
			p.flushNow(context.Background())
		}
	}
}

// flushNow swaps out the current buffer and writes it as one pipelined
// transaction, retrying with bounded exponential backoff on failure (spec
// §4.6). Notifications are published only after the write succeeds.
func (p *Publisher) flushNow(ctx context.Context) {
	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = p.writeBatch(ctx, batch)
		if err == nil {
			break
		}
		p.log.WithError(err).Warn("publisher batch flush failed, retrying")
		time.Sleep(p.backoff.Delay(attempt))
	}
	if err != nil {
		p.log.WithError(err).Error("publisher batch flush failed persistently")
	}
}

func (p *Publisher) writeBatch(ctx context.Context, batch []points.Sample) error {
	pipe := p.client.TxPipeline()
	for _, s := range batch {
		key := SampleKey(s.ChannelID, s.Kind, s.PointID)
		pipe.Set(ctx, key, formatValue(s), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return comserr.Wrap(err, comserr.IOError)
	}

	notifyPipe := p.client.Pipeline()
	for _, s := range batch {
		key := SampleKey(s.ChannelID, s.Kind, s.PointID)
		notifyPipe.Publish(ctx, key, s.PointID+":"+formatValue(s))
	}
	if _, err := notifyPipe.Exec(ctx); err != nil {
		return comserr.Wrap(err, comserr.IOError)
	}
	return nil
}

// WriteStatus updates the channel health record at comsrv:status:{channel_id}
// (spec §4.6's write_status, §6's status key).
func (p *Publisher) WriteStatus(ctx context.Context, channelID int, connected bool, lastSuccess time.Time, requests, errs uint64) error {
	fields := map[string]interface{}{
		"connected":     connected,
		"last_success":  lastSuccess.Unix(),
		"request_count": requests,
		"error_count":   errs,
	}
	if err := p.client.HSet(ctx, StatusKey(channelID), fields).Err(); err != nil {
		return comserr.Wrap(err, comserr.IOError)
	}
	return nil
}
