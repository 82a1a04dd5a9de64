// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/circutor/comsrv/internal/config"
	"github.com/circutor/comsrv/internal/publish"
	"github.com/circutor/comsrv/internal/supervisor"
)

func newStartCmd() *cobra.Command {
	var configPath string
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "load a configuration file and run until signalled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath, listenAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "comsrv.toml", "path to the configuration file")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "address for the health/status HTTP endpoint")
	return cmd
}

func runStart(configPath, listenAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Logging)

	pub, err := publish.New(cfg.KVStore, log.WithField("component", "publish"))
	if err != nil {
		return err
	}

	sup := supervisor.New(pub, log.WithField("component", "supervisor"))
	if err := sup.Load(cfg); err != nil {
		return err
	}

	srv := newStatusServer(listenAddr, sup)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("status server exited unexpectedly")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.WithField("signal", s.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	return sup.Shutdown(ctx)
}

func newValidateConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "parse a configuration file and report errors without starting any channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cmd.Println("configuration OK")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "comsrv.toml", "path to the configuration file")
	return cmd
}

func newLogger(lc config.LoggingConfig) *logrus.Entry {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(lc.Level); err == nil {
		l.SetLevel(lvl)
	}
	if lc.File != "" {
		if f, err := os.OpenFile(lc.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			l.SetOutput(f)
		}
	}
	return logrus.NewEntry(l)
}

// newStatusServer builds the gorilla/mux health/status HTTP surface named
// in spec §6's CLI surface note (data shape only, outside core scope).
func newStatusServer(addr string, sup *supervisor.Supervisor) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sup.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return &http.Server{Addr: addr, Handler: r}
}
