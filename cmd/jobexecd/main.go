// Copyright 2025 The Jobexec Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command jobexecd drives a small demo pipeline through a configurable
// execution backend, wiring up structured logging and OpenTelemetry
// metrics/tracing the way a real scheduler would around this layer.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/jobexec/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "jobexecd",
		Short: "jobexecd runs a workflow's jobs through a configurable execution backend",
		Long: `jobexecd is the execution layer of a workflow engine: it accepts a
small DAG of jobs and runs them through one of the dry-run, touch, CPU, or
cluster (generic/synchronous/DRMAA) backends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to jobexecd config file")

	cmd.AddCommand(newRunCommand(&cfgPath))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("jobexecd %s (commit %s)\n", version, commit)
			return nil
		},
	}
}

func newRunCommand(cfgPath *string) *cobra.Command {
	var workdir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo pipeline through the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if workdir == "" {
				workdir, err = os.MkdirTemp("", "jobexecd-demo-")
				if err != nil {
					return err
				}
			}
			logger := slog.Default()
			return runDemo(cmd.Context(), cfg, workdir, logger)
		},
	}
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory for demo job outputs (default: temp dir)")
	return cmd
}
