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

// Package cluster implements the three cluster-backed executors (generic
// submit-command, synchronous blocking-submit, and DRMAA) on top of a
// shared ClusterExecutor base that materializes per-job scripts, manages
// a scratch directory, and runs a background completion poller.
package cluster

import (
	"crypto/rand"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/jobexec/internal/executor"
	"github.com/tombee/jobexec/pkg/job"
	"github.com/tombee/jobexec/pkg/joberrors"
)

//go:embed jobscript.sh
var defaultJobscriptFS embed.FS

const defaultJobscriptName = "jobscript.sh"

const jobidPlaceholder = "{jobid}"

// Config configures a ClusterExecutor.
type Config struct {
	Cores int

	// Jobname is the per-job script filename template; it must contain
	// the literal placeholder "{jobid}".
	Jobname string

	// JobscriptPath overrides the bundled default jobscript.sh template.
	JobscriptPath string

	// PrintShellCmds appends --printshellcmds to the rendered remote
	// command.
	PrintShellCmds bool

	// ClusterConfig provides the "__default__" and per-rule wildcard
	// overlays used to expand {cluster.*} placeholders.
	ClusterConfig map[string]map[string]string

	BenchmarkRepeats int
}

// ClusterExecutor is the shared base embedded by the generic,
// synchronous, and DRMAA backends.
type ClusterExecutor struct {
	executor.Base

	cfg Config

	execJobTemplate string
	jobscriptTmpl   *template.Template

	mu      sync.Mutex
	wait    bool
	tmpdir  string
	pollers sync.WaitGroup

	// watcher watches tmpdir for sentinel-file creation (jobfinished,
	// jobfailed) so the poller can wake immediately instead of waiting
	// out the full interval; wake carries one pending nudge per tick and
	// is never closed, so a wakeup racing Shutdown is simply dropped.
	watcher *fsnotify.Watcher
	wake    chan struct{}
}

// NewClusterExecutor validates cfg and loads the jobscript template; the
// temp workspace is created lazily by Tmpdir. It does not start the poller -- callers (the
// concrete backend constructors) do that once their own active-job list
// exists, via StartPoller.
func NewClusterExecutor(base executor.Base, cfg Config) (*ClusterExecutor, error) {
	if base.Workflow == nil || base.Workflow.EnginePath == "" {
		return nil, &joberrors.WorkflowError{Reason: "cluster executor needs to know the path to the workflow engine binary"}
	}
	if cfg.Jobname == "" {
		cfg.Jobname = "jobexec.{rulename}.{jobid}.sh"
	}
	if !strings.Contains(cfg.Jobname, jobidPlaceholder) {
		return nil, &joberrors.WorkflowError{Reason: fmt.Sprintf("jobname %q must contain the placeholder %s", cfg.Jobname, jobidPlaceholder)}
	}

	var raw []byte
	var err error
	if cfg.JobscriptPath != "" {
		raw, err = os.ReadFile(cfg.JobscriptPath)
	} else {
		raw, err = defaultJobscriptFS.ReadFile(defaultJobscriptName)
	}
	if err != nil {
		return nil, &joberrors.WorkflowError{Reason: "failed to read jobscript template", Cause: err}
	}
	tmpl, err := template.New("jobscript").Parse(string(raw))
	if err != nil {
		return nil, &joberrors.WorkflowError{Reason: "failed to parse jobscript template", Cause: err}
	}

	e := &ClusterExecutor{
		Base:          base,
		cfg:           cfg,
		jobscriptTmpl: tmpl,
		wait:          true,
		wake:          make(chan struct{}, 1),
	}
	e.execJobTemplate = e.buildExecJobTemplate()
	return e, nil
}

// buildExecJobTemplate renders the outer remote-invocation command
// template from spec.md 4.6, honoring PrintShellCmds and the
// --allowed-rules suppression rule for DAGs with dynamic outputs.
func (e *ClusterExecutor) buildExecJobTemplate() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cd {{.WorkdirInit}} && {{.EnginePath}} --snakefile {{.Snakefile}} ")
	fmt.Fprintf(&b, "--force -j{{.Cores}} --keep-target-files ")
	fmt.Fprintf(&b, "--wait-for-files {{.Input}} --latency-wait {{.LatencyWait}} ")
	fmt.Fprintf(&b, "--benchmark-repeats {{.BenchmarkRepeats}} ")
	fmt.Fprintf(&b, "{{.OverwriteWorkdir}}{{.OverwriteConfig}}--nocolor --notemp --quiet --no-hooks --nolock ")
	if e.cfg.PrintShellCmds {
		b.WriteString("--printshellcmds ")
	}
	if !e.DAG.DynamicOutputJobs() {
		b.WriteString("--allowed-rules {{.RuleName}} ")
	}
	b.WriteString("{{.Target}}")
	return b.String()
}

// execJobVars is the template context for the outer remote-invocation
// command (spec.md 6's shell-command placeholders).
type execJobVars struct {
	WorkdirInit      string
	EnginePath       string
	Snakefile        string
	Cores            string
	Input            string
	LatencyWait      string
	BenchmarkRepeats int
	OverwriteWorkdir string
	OverwriteConfig  string
	RuleName         string
	Target           string
}

func (e *ClusterExecutor) renderExecJob(j job.Job) (string, error) {
	wf := e.Workflow
	overwriteWorkdir := ""
	if wf.OverwriteWorkdir != "" {
		overwriteWorkdir = fmt.Sprintf("--directory %s ", wf.OverwriteWorkdir)
	}
	overwriteConfig := ""
	if wf.OverwriteConfigfile != "" {
		overwriteConfig = fmt.Sprintf("--configfile %s ", wf.OverwriteConfigfile)
	}
	if len(wf.ConfigArgs) > 0 {
		overwriteConfig += fmt.Sprintf("--config %s ", strings.Join(wf.ConfigArgs, " "))
	}

	target := strings.Join(j.Output(), " ")
	if target == "" {
		target = j.RuleName()
	}

	cores := "1"
	if e.cfg.Cores > 0 {
		cores = fmt.Sprintf("%d", e.cfg.Cores)
	}

	vars := execJobVars{
		WorkdirInit:      wf.WorkdirInit,
		EnginePath:       wf.EnginePath,
		Snakefile:        wf.Snakefile,
		Cores:            cores,
		Input:            strings.Join(j.Input(), " "),
		LatencyWait:      fmt.Sprintf("%d", int(e.LatencyWait.Seconds())),
		BenchmarkRepeats: e.cfg.BenchmarkRepeats,
		OverwriteWorkdir: overwriteWorkdir,
		OverwriteConfig:  overwriteConfig,
		RuleName:         j.RuleName(),
		Target:           target,
	}

	tmpl, err := template.New("execjob").Parse(e.execJobTemplate)
	if err != nil {
		return "", &joberrors.WorkflowError{Reason: "invalid exec_job template", Rule: j.RuleName(), Cause: err}
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", &joberrors.WorkflowError{Reason: "error formatting exec_job", Rule: j.RuleName(), Cause: err}
	}
	return buf.String(), nil
}

// jobscriptVars is the template context for the jobscript wrapper file.
type jobscriptVars struct {
	ExecJob string
}

// SpawnJobscript renders the outer exec_job command plus any
// backend-specific suffix (e.g. sentinel touches), writes it into the
// jobscript wrapper template, and chmod +x's the result.
func (e *ClusterExecutor) SpawnJobscript(j job.Job, scriptPath string, suffix string) error {
	execJob, err := e.renderExecJob(j)
	if err != nil {
		return err
	}
	execJob += suffix

	var buf strings.Builder
	if err := e.jobscriptTmpl.Execute(&buf, jobscriptVars{ExecJob: execJob}); err != nil {
		return &joberrors.WorkflowError{Reason: "error formatting jobscript", Rule: j.RuleName(), Cause: err}
	}
	if err := os.WriteFile(scriptPath, []byte(buf.String()), 0o644); err != nil {
		return &joberrors.WorkflowError{Reason: "failed to write jobscript", Rule: j.RuleName(), Cause: err}
	}
	info, err := os.Stat(scriptPath)
	if err != nil {
		return &joberrors.WorkflowError{Reason: "failed to stat jobscript", Rule: j.RuleName(), Cause: err}
	}
	if err := os.Chmod(scriptPath, info.Mode()|0o100); err != nil {
		return &joberrors.WorkflowError{Reason: "failed to chmod jobscript", Rule: j.RuleName(), Cause: err}
	}
	return nil
}

// GetJobscript returns the path the per-job script should be written to.
func (e *ClusterExecutor) GetJobscript(j job.Job) (string, error) {
	tmpdir, err := e.Tmpdir()
	if err != nil {
		return "", err
	}
	ctx := map[string]string{
		"rulename": j.RuleName(),
		"jobid":    e.DAG.JobID(j),
	}
	for k, v := range e.ClusterWildcards(j) {
		ctx["cluster."+k] = v
	}
	name, err := j.FormatWildcards(e.cfg.Jobname, ctx)
	if err != nil {
		return "", &joberrors.WorkflowError{Reason: "failed to format jobname", Rule: j.RuleName(), Cause: err}
	}
	return filepath.Join(tmpdir, name), nil
}

// ClusterWildcards merges cluster_config["__default__"] with
// cluster_config[rule] (rule overrides default), exactly two layers, per
// spec.md's explicit "not supported by design" note on nested profiles.
func (e *ClusterExecutor) ClusterWildcards(j job.Job) map[string]string {
	merged := make(map[string]string)
	for k, v := range e.cfg.ClusterConfig["__default__"] {
		merged[k] = v
	}
	for k, v := range e.cfg.ClusterConfig[j.RuleName()] {
		merged[k] = v
	}
	return merged
}

// Tmpdir lazily creates and returns the executor's scratch directory,
// "./.snakemake/tmp.<6 random upper+digit chars>".
func (e *ClusterExecutor) Tmpdir() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tmpdir != "" {
		return e.tmpdir, nil
	}
	for {
		name := filepath.Join(".snakemake", "tmp."+randomSuffix(6))
		if _, err := os.Stat(name); os.IsNotExist(err) {
			if err := os.MkdirAll(name, 0o755); err != nil {
				return "", err
			}
			abs, err := filepath.Abs(name)
			if err != nil {
				return "", err
			}
			e.tmpdir = abs
			e.watchTmpdir(abs)
			return e.tmpdir, nil
		}
	}
}

// watchTmpdir starts an fsnotify watch on the scratch directory so sentinel
// files (jobfinished, jobfailed) wake the poller the moment the remote
// script touches them, rather than waiting for the next ticker interval.
// A failure to start the watcher is not fatal: the ticker in StartPoller
// still covers completion detection on its own, just less promptly.
func (e *ClusterExecutor) watchTmpdir(dir string) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		e.Logger.Warn("cluster executor: fsnotify watcher unavailable, falling back to interval-only polling", "error", err)
		return
	}
	if err := w.Add(dir); err != nil {
		e.Logger.Warn("cluster executor: failed to watch scratch directory", "dir", dir, "error", err)
		_ = w.Close()
		return
	}
	e.watcher = w
	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case e.wake <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

const suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomSuffix(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(out)
}

// StartPoller starts a background goroutine that calls pollOnce every
// interval, or immediately on a filesystem-watch wakeup (see
// watchTmpdir), until Shutdown/Cancel clears the wait flag.
func (e *ClusterExecutor) StartPoller(interval time.Duration, pollOnce func()) {
	e.pollers.Add(1)
	go func() {
		defer e.pollers.Done()
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			e.mu.Lock()
			keepGoing := e.wait
			e.mu.Unlock()
			if !keepGoing {
				return
			}
			pollOnce()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
			select {
			case <-timer.C:
			case <-e.wake:
			}
		}
	}()
}

// Waiting reports whether the poller should keep running.
func (e *ClusterExecutor) Waiting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wait
}

// Lock/Unlock guard a concrete backend's active-job list, sharing the
// same mutex that guards the wait flag, per spec.md's "active_jobs and
// wait are shared between the submit path and the poller; both accesses
// are serialized by lock" invariant.
func (e *ClusterExecutor) Lock()   { e.mu.Lock() }
func (e *ClusterExecutor) Unlock() { e.mu.Unlock() }

// Shutdown stops the poller, waits for it to exit, and removes the
// executor's temp directory.
func (e *ClusterExecutor) Shutdown() error {
	e.mu.Lock()
	e.wait = false
	tmpdir := e.tmpdir
	watcher := e.watcher
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	e.pollers.Wait()

	if watcher != nil {
		_ = watcher.Close()
	}
	if tmpdir != "" {
		return os.RemoveAll(tmpdir)
	}
	return nil
}
