// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Command comsrv is a trivial wrapper that drives the core (Supervisor)
// from a configuration file: start-with-config, graceful shutdown on
// SIGINT/SIGTERM, non-zero exit on configuration error (spec §6's CLI
// surface, explicitly out of core scope but required to run it). Grounded
// on the teacher's examples/modbus/cmd/main.go flag-parse/start/wait-for-
// signal shape, rebuilt on github.com/spf13/cobra per the pack convention
// for multi-subcommand CLIs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "comsrv",
		Short: "comsrv drives Modbus device channels and publishes samples to an external key/value store",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newValidateConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the comsrv version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
