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

// Package job defines the collaborator interfaces the execution layer
// depends on (Job, DAG, Workflow, Persistence) along with a minimal
// in-memory reference implementation used by tests and cmd/jobexecd.
package job

import (
	"encoding/json"
	"os"
	"time"

	"github.com/tombee/jobexec/pkg/joberrors"
)

// HighestPriority is the sentinel priority value that is rendered as the
// literal "highest" in job-info logging rather than as a number.
const HighestPriority = -1 << 31

// RunFunc is the body of an in-process rule invocation.
type RunFunc func(input, output []string, params map[string]string, wildcards map[string]string,
	threads int, resources map[string]int, log []string, version string) error

// Job is a single rule application with concrete input/output paths and
// resolved wildcards.
type Job interface {
	// ID is a stable identifier within the current run.
	ID() string

	// RuleName is the name of the rule this job instantiates.
	RuleName() string

	// Input, Output, Log return the declared paths for this job.
	Input() []string
	Output() []string
	Log() []string

	// ExpandedOutput returns the fully expanded output set, including any
	// outputs only known after dynamic expansion.
	ExpandedOutput() []string

	// Params returns rule parameters as formatted strings.
	Params() map[string]string

	// Wildcards returns the resolved wildcard values for this job.
	Wildcards() map[string]string

	// Threads is the number of threads requested for this job.
	Threads() int

	// Resources is the resolved resource dictionary (e.g. mem_mb, disk_mb).
	Resources() map[string]int

	// Version is the rule's declared version (used for benchmarking/provenance).
	Version() string

	// Benchmark returns the benchmark output path, or "" if unset.
	Benchmark() string

	// ShellCmd returns the rendered shell command for this job, or ""
	// if the job runs an in-process function instead.
	ShellCmd() string

	// RunFunc returns the in-process run function, or nil if this job's
	// body is a shell command.
	RunFunc() RunFunc

	// DynamicOutput reports whether this job declares dynamic outputs
	// (exact output paths unknown until the rule runs).
	DynamicOutput() bool

	// IsLocal reports whether this job's rule is restricted to local
	// execution regardless of the selected backend.
	IsLocal() bool

	// Priority returns the job's scheduling priority. HighestPriority is
	// rendered as "highest" in structured logs.
	Priority() int

	// CheckProtectedOutput returns ProtectedOutputError if any declared
	// output already exists and is marked read-only on disk.
	CheckProtectedOutput() error

	// Prepare ensures output directories exist prior to execution.
	Prepare() error

	// Cleanup removes partially-produced outputs after a failed run.
	Cleanup() error

	// FormatWildcards substitutes {name} placeholders from the job's
	// wildcards (plus any extra context) into template, returning the
	// rendered string.
	FormatWildcards(template string, extra map[string]string) (string, error)

	// JSON serializes the job's properties as a JSON blob. The cluster
	// executors do not pass it to the jobscript template.
	JSON() (string, error)
}

// DAG provides per-job graph metadata and the post-job side effects that
// must run before a job's success callback fires.
type DAG interface {
	// JobID returns the DAG-assigned identifier for job (distinct from
	// Job.ID, which is the job's own stable identifier).
	JobID(j Job) string

	// Priority returns the job's priority as seen by the DAG (may differ
	// from Job.Priority once dynamic jobs are scheduled).
	Priority(j Job) int

	// Reason explains why this job needs to run (for logging).
	Reason(j Job) string

	// Dynamic reports whether job is a placeholder that will only be
	// "executed" in dry-run mode pending dynamic expansion.
	Dynamic(j Job) bool

	// DynamicOutputJobs reports whether any job in the DAG declares
	// dynamic outputs; this disables --allowed-rules in rendered
	// jobscripts.
	DynamicOutputJobs() bool

	// HandleTouch updates ancillary bookkeeping after touch-executor runs.
	HandleTouch(j Job) error

	// CheckOutput verifies that job's outputs are visible on disk,
	// retrying for up to wait seconds to absorb filesystem propagation
	// delay on networked storage.
	CheckOutput(j Job, wait time.Duration) error

	// HandleProtected marks job's protected outputs read-only.
	HandleProtected(j Job) error

	// HandleTemp removes job's temporary inputs/outputs once consumers
	// have run.
	HandleTemp(j Job) error
}

// Persistence records which jobs have started/finished across engine
// restarts.
type Persistence interface {
	// Started marks job as having begun execution.
	Started(j Job) error

	// Finished marks job as completed successfully.
	Finished(j Job) error

	// Cleanup removes any markers for a job that failed or was
	// interrupted.
	Cleanup(j Job) error

	// Path returns the persistence store's location, for diagnostics.
	Path() string
}

// Workflow holds the global settings shared by every executor backend.
type Workflow struct {
	// EnginePath is the path to the workflow engine binary, used to
	// re-invoke the engine on remote cluster workers.
	EnginePath string

	// Snakefile is the path to the workflow definition file.
	Snakefile string

	// WorkdirInit is the working directory the remote engine invocation
	// should cd into before running.
	WorkdirInit string

	// OverwriteWorkdir, if non-empty, is passed as --directory to the
	// remote invocation.
	OverwriteWorkdir string

	// OverwriteConfigfile, if non-empty, is passed as --configfile.
	OverwriteConfigfile string

	// ConfigArgs are passed as --config <args> to the remote invocation.
	ConfigArgs []string

	// LineMaps maps a rule name to the source file and line of that
	// rule, for rule-exception attribution.
	LineMaps map[string]LineMap

	// Persistence is the marker store used by the executor's post-run
	// protocol.
	Persistence Persistence

	// Debug is the workflow's debug flag. No executor in this module
	// reads it.
	Debug bool

	// JobscriptPath names a jobscript template. The cluster executors do
	// not read it; they take the override from cluster.Config.JobscriptPath.
	JobscriptPath string

	// isLocal, when set, overrides per-rule locality classification.
	// Used by tests; production callers should leave this nil and rely
	// on Job.IsLocal().
	isLocal func(ruleName string) bool
}

// LineMap is the source file and line number a rule is defined at.
type LineMap struct {
	File string
	Line int
}

// IsLocal reports whether ruleName is restricted to local execution.
func (w *Workflow) IsLocal(ruleName string) bool {
	if w.isLocal != nil {
		return w.isLocal(ruleName)
	}
	return false
}

// WithIsLocal overrides the locality classifier (used by tests).
func (w *Workflow) WithIsLocal(fn func(ruleName string) bool) *Workflow {
	w.isLocal = fn
	return w
}

// StaticJob is a minimal, fully-functional Job implementation over
// concrete fields, used by tests and the cmd/jobexecd demo scheduler in
// place of the real rule/DAG machinery (out of scope for this layer).
type StaticJob struct {
	IDValue        string
	Rule           string
	InputPaths     []string
	OutputPaths    []string
	LogPaths       []string
	ParamsValue    map[string]string
	WildcardValues map[string]string
	ThreadsValue   int
	ResourcesValue map[string]int
	VersionValue   string
	BenchmarkPath  string
	Shell          string
	Run            RunFunc
	Dynamic        bool
	Local          bool
	PriorityValue  int
}

var _ Job = (*StaticJob)(nil)

func (j *StaticJob) ID() string                   { return j.IDValue }
func (j *StaticJob) RuleName() string             { return j.Rule }
func (j *StaticJob) Input() []string               { return j.InputPaths }
func (j *StaticJob) Output() []string              { return j.OutputPaths }
func (j *StaticJob) Log() []string                 { return j.LogPaths }
func (j *StaticJob) ExpandedOutput() []string       { return j.OutputPaths }
func (j *StaticJob) Params() map[string]string      { return j.ParamsValue }
func (j *StaticJob) Wildcards() map[string]string   { return j.WildcardValues }
func (j *StaticJob) Threads() int                   { return j.ThreadsValue }
func (j *StaticJob) Resources() map[string]int      { return j.ResourcesValue }
func (j *StaticJob) Version() string                { return j.VersionValue }
func (j *StaticJob) Benchmark() string              { return j.BenchmarkPath }
func (j *StaticJob) ShellCmd() string               { return j.Shell }
func (j *StaticJob) RunFunc() RunFunc               { return j.Run }
func (j *StaticJob) DynamicOutput() bool            { return j.Dynamic }
func (j *StaticJob) IsLocal() bool                  { return j.Local }
func (j *StaticJob) Priority() int                  { return j.PriorityValue }

// CheckProtectedOutput fails if any output exists and is not writable.
func (j *StaticJob) CheckProtectedOutput() error {
	for _, out := range j.OutputPaths {
		info, err := os.Stat(out)
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0o200 == 0 {
			return &joberrors.ProtectedOutputError{Job: j, Outputs: []string{out}}
		}
	}
	return nil
}

// Prepare creates parent directories for every declared output.
func (j *StaticJob) Prepare() error {
	for _, out := range j.OutputPaths {
		if dir := dirOf(out); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cleanup removes any outputs this job may have partially produced.
func (j *StaticJob) Cleanup() error {
	var firstErr error
	for _, out := range j.OutputPaths {
		if err := os.Remove(out); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FormatWildcards performs simple {name} substitution using the job's own
// wildcards plus any extra context values. Unlike Python str.format, a
// missing key is reported as an error rather than silently left in place.
func (j *StaticJob) FormatWildcards(template string, extra map[string]string) (string, error) {
	return formatPlaceholders(template, mergeContext(j.WildcardValues, extra))
}

// JSON serializes the job's rule, paths, wildcards, params, threads and
// resources as a JSON object.
func (j *StaticJob) JSON() (string, error) {
	props := map[string]interface{}{
		"rule":      j.Rule,
		"input":     j.InputPaths,
		"output":    j.OutputPaths,
		"wildcards": j.WildcardValues,
		"params":    j.ParamsValue,
		"threads":   j.ThreadsValue,
		"resources": j.ResourcesValue,
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

func mergeContext(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
