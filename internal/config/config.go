// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018 IOTech Ltd
// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads channel/point-table configuration from TOML or YAML
// files, matching the shape described in spec §6. File-format parsing is an
// external concern; this package only defines the parsed shape and the
// loader that produces it.
package config

// Config is the top-level configuration document: one or more channels, the
// external key/value store connection, and logging settings.
type Config struct {
	Channels []ChannelConfig          `toml:"Channel" yaml:"channels"`
	KVStore  KVStoreConfig            `toml:"KVStore" yaml:"kvstore"`
	Logging  LoggingConfig            `toml:"Logging" yaml:"logging"`
	Service  ServiceConfig            `toml:"Service" yaml:"service"`
}

// ServiceConfig carries process-wide knobs that are not channel-specific.
type ServiceConfig struct {
	ConnectRetries int `toml:"ConnectRetries" yaml:"connect_retries"`
	TimeoutMs      int `toml:"TimeoutMs" yaml:"timeout_ms"`
}

// KVStoreConfig configures the Publisher's connection to the external
// key/value store (spec §6).
type KVStoreConfig struct {
	Address  string `toml:"Address" yaml:"address"`
	Password string `toml:"Password" yaml:"password"`
	DB       int    `toml:"DB" yaml:"db"`
}

// LoggingConfig configures the injected structured logger.
type LoggingConfig struct {
	Level        string `toml:"Level" yaml:"level"`
	File         string `toml:"File" yaml:"file"`
	EnableRemote bool   `toml:"EnableRemote" yaml:"enable_remote"`
}

// ChannelConfig is the parsed shape of one Channel record, spec §3/§6.
type ChannelConfig struct {
	ID             int          `toml:"ID" yaml:"id"`
	Name           string       `toml:"Name" yaml:"name"`
	Protocol       string       `toml:"Protocol" yaml:"protocol"`
	Role           string       `toml:"Role" yaml:"role"`
	Transport      TransportConfig `toml:"Transport" yaml:"transport"`
	PollIntervalMs int          `toml:"PollIntervalMs" yaml:"poll_interval_ms"`
	TimeoutMs      int          `toml:"TimeoutMs" yaml:"timeout_ms"`
	RetryCount     int          `toml:"RetryCount" yaml:"retry_count"`
	Enabled        bool         `toml:"Enabled" yaml:"enabled"`
	PointTableFile string       `toml:"PointTableFile" yaml:"point_table_file"`
	PointTable     []PointRecord `toml:"PointTable" yaml:"point_table"`
}

// TransportConfig carries either serial or TCP parameters; exactly one of
// the two groups should be populated, discriminated by Kind.
type TransportConfig struct {
	Kind string `toml:"Kind" yaml:"kind"` // "SERIAL" | "TCP"

	Port     string `toml:"Port" yaml:"port"`
	Baud     int    `toml:"Baud" yaml:"baud"`
	Parity   string `toml:"Parity" yaml:"parity"`
	DataBits int    `toml:"DataBits" yaml:"data_bits"`
	StopBits int    `toml:"StopBits" yaml:"stop_bits"`

	Host string `toml:"Host" yaml:"host"`
	TCPPort int `toml:"TCPPort" yaml:"tcp_port"`
}

// PointRecord is one row of a point table (spec §6): either embedded in the
// TOML/YAML document or loaded from a companion CSV file via gocsv tags.
// Missing optional columns default per spec §6: scale=1, offset=0,
// byte_order=ABCD, retries=3.
type PointRecord struct {
	ID          string  `toml:"ID" yaml:"id" csv:"id"`
	Kind        string  `toml:"Kind" yaml:"kind" csv:"kind"`
	ScalarType  string  `toml:"ScalarType" yaml:"scalar_type" csv:"scalar_type"`
	ByteOrder   string  `toml:"ByteOrder" yaml:"byte_order" csv:"byte_order"`
	Scale       float64 `toml:"Scale" yaml:"scale" csv:"scale"`
	Offset      float64 `toml:"Offset" yaml:"offset" csv:"offset"`
	Unit        string  `toml:"Unit" yaml:"unit" csv:"unit"`
	Description string  `toml:"Description" yaml:"description" csv:"description"`
	Min         *float64 `toml:"Min" yaml:"min" csv:"min"`
	Max         *float64 `toml:"Max" yaml:"max" csv:"max"`

	UnitID       byte   `toml:"UnitID" yaml:"unit_id" csv:"unit_id"`
	FunctionCode byte   `toml:"FunctionCode" yaml:"function_code" csv:"function_code"`
	Address      uint16 `toml:"Address" yaml:"address" csv:"address"`
	BitLength    int    `toml:"BitLength" yaml:"bit_length" csv:"bit_length"`
}

// ApplyDefaults fills the optional columns per spec §6.
func (r *PointRecord) ApplyDefaults() {
	if r.Scale == 0 {
		r.Scale = 1
	}
	if r.ByteOrder == "" {
		r.ByteOrder = "ABCD"
	}
}
