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

// Package config loads jobexecd's YAML configuration file.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/jobexec/pkg/joberrors"
)

// Daemon is the top-level jobexecd configuration.
type Daemon struct {
	// Backend selects the executor: "dryrun", "touch", "cpu", "generic",
	// "synchronous", or "drmaa".
	Backend string `yaml:"backend"`

	Cores            int    `yaml:"cores"`
	UseThreads       bool   `yaml:"use_threads"`
	BenchmarkRepeats int    `yaml:"benchmark_repeats"`
	LatencyWaitSecs  int    `yaml:"latency_wait_seconds"`
	EnginePath       string `yaml:"engine_path"`
	Snakefile        string `yaml:"snakefile"`
	WorkdirInit      string `yaml:"workdir_init"`

	Jobname        string `yaml:"jobname"`
	JobscriptPath  string `yaml:"jobscript_path"`
	PrintShellCmds bool   `yaml:"print_shell_cmds"`

	// SubmitCmd is the shell command used to hand a jobscript to the
	// batch system, shared by the generic and synchronous backends
	// (e.g. "qsub" for generic's async submission, "qsub -sync y" for
	// synchronous's blocking one).
	SubmitCmd string `yaml:"submit_cmd"`

	// DrmaaArgs is a FormatWildcards template rendered against
	// {cluster.*} placeholders and passed to the DRM as the job's
	// native specification, used only by the drmaa backend.
	DrmaaArgs string `yaml:"drmaa_args"`

	ClusterConfig map[string]map[string]string `yaml:"cluster_config"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig configures the OTel exporter pipeline. jobexecd always
// exports traces to stdout and metrics through the Prometheus exporter;
// only PrometheusListen is read.
type MetricsConfig struct {
	// Exporter and OTLPEndpoint are parsed but not used by jobexecd.
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	PrometheusListen string `yaml:"prometheus_listen"`
}

// Default returns a Daemon with conservative defaults, matching the
// reference executor's own out-of-the-box behavior (single core, CPU
// backend, no cluster config).
func Default() *Daemon {
	return &Daemon{
		Backend:         "cpu",
		Cores:           1,
		LatencyWaitSecs: 5,
		Jobname:         "jobexec.{rulename}.{jobid}.sh",
		Metrics:         MetricsConfig{Exporter: "stdout"},
	}
}

// Load reads and parses a Daemon config from path. An empty path yields
// Default() untouched.
func Load(path string) (*Daemon, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &joberrors.WorkflowError{Reason: "failed to read config file", Cause: err}
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, &joberrors.WorkflowError{Reason: "failed to parse config file", Cause: err}
	}
	return cfg, nil
}
