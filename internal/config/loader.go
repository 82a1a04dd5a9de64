// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018 IOTech Ltd
// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/circutor/comsrv/internal/comserr"
)

const defaultRetryCount = 3

// Load reads the configuration file at path and returns the parsed Config.
// The format (TOML or YAML) is chosen by file extension. As the TOML and
// YAML decoders can panic on malformed input, a deferred recover converts
// that into a CONFIG_ERROR rather than crashing the process, mirroring the
// teacher's loadConfigFromFile.
func Load(path string) (cfg *Config, err error) {
	absPath, absErr := filepath.Abs(path)
	if absErr != nil {
		return nil, comserr.Wrap(absErr, comserr.ConfigError)
	}

	defer func() {
		if r := recover(); r != nil {
			err = comserr.New(comserr.ConfigError, "could not load configuration file; invalid input (%s): %v", absPath, r)
		}
	}()

	contents, readErr := os.ReadFile(absPath)
	if readErr != nil {
		return nil, comserr.Wrap(errors.Wrapf(readErr, "could not load configuration file (%s)", absPath), comserr.ConfigError)
	}

	cfg = &Config{}
	switch ext := strings.ToLower(filepath.Ext(absPath)); ext {
	case ".toml":
		if decErr := toml.Unmarshal(contents, cfg); decErr != nil {
			return nil, comserr.Wrap(errors.Wrapf(decErr, "unable to parse TOML configuration file (%s)", absPath), comserr.ConfigError)
		}
	case ".yaml", ".yml":
		if decErr := yaml.Unmarshal(contents, cfg); decErr != nil {
			return nil, comserr.Wrap(errors.Wrapf(decErr, "unable to parse YAML configuration file (%s)", absPath), comserr.ConfigError)
		}
	default:
		return nil, comserr.New(comserr.ConfigError, "unrecognized configuration file extension %q", ext)
	}

	applyChannelDefaults(cfg)

	if loadErr := loadPointTables(filepath.Dir(absPath), cfg); loadErr != nil {
		return nil, loadErr
	}

	return cfg, nil
}

func applyChannelDefaults(cfg *Config) {
	for i := range cfg.Channels {
		if cfg.Channels[i].RetryCount == 0 {
			cfg.Channels[i].RetryCount = defaultRetryCount
		}
	}
}

// loadPointTables reads each channel's companion CSV point table (if
// PointTableFile is set) and appends the rows to PointTable, applying the
// spec §6 column defaults to every row regardless of its source.
func loadPointTables(baseDir string, cfg *Config) error {
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if ch.PointTableFile != "" {
			rows, err := LoadPointTableCSV(filepath.Join(baseDir, ch.PointTableFile))
			if err != nil {
				return err
			}
			ch.PointTable = append(ch.PointTable, rows...)
		}
		for j := range ch.PointTable {
			ch.PointTable[j].ApplyDefaults()
		}
	}
	return nil
}

// LoadPointTableCSV decodes a point-table CSV file via gocsv, per spec §6.
func LoadPointTableCSV(path string) ([]PointRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, comserr.Wrap(errors.Wrapf(err, "could not open point table (%s)", path), comserr.ConfigError)
	}
	defer f.Close()

	var rows []PointRecord
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, comserr.Wrap(errors.Wrapf(err, "could not parse point table (%s)", path), comserr.ConfigError)
	}
	return rows, nil
}
