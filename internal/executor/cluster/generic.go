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

package cluster

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tombee/jobexec/internal/executor"
	"github.com/tombee/jobexec/pkg/job"
	"github.com/tombee/jobexec/pkg/joberrors"
)

// pollInterval is how often cluster pollers re-check completion
// evidence, matching the 1-second cadence of the reference executor.
const pollInterval = 1 * time.Second

// genericActiveJob ties an accepted job to the sentinel files that
// signal its completion and the callbacks to run once it does.
type genericActiveJob struct {
	Job         job.Job
	OnSuccess   executor.OnSuccess
	OnError     executor.OnError
	Script      string
	JobFinished string
	JobFailed   string
}

// Generic submits jobs through a configurable shell submit command and
// detects completion by polling for sentinel files the per-job script
// touches on exit, per spec.md 4.7.
type Generic struct {
	*ClusterExecutor

	// SubmitCmd is rendered with FormatWildcards against
	// {dependencies} and {cluster.*} placeholders, then invoked as
	// `<cmd> "<jobscript>"`. Its stdout's first non-empty line is taken
	// as the external job id.
	SubmitCmd string

	extMu         sync.Mutex
	externalJobID map[string]string

	active []genericActiveJob
}

var _ executor.Executor = (*Generic)(nil)

// NewGeneric constructs a Generic cluster executor and starts its
// completion poller.
func NewGeneric(base executor.Base, cfg Config, submitCmd string) (*Generic, error) {
	ce, err := NewClusterExecutor(base, cfg)
	if err != nil {
		return nil, err
	}
	g := &Generic{
		ClusterExecutor: ce,
		SubmitCmd:        submitCmd,
		externalJobID:    make(map[string]string),
	}
	g.StartPoller(pollInterval, g.pollOnce)
	return g, nil
}

// dependencies builds the {dependencies} placeholder value: the
// space-joined external job ids of every known producer of j's inputs.
func (g *Generic) dependencies(j job.Job) string {
	g.extMu.Lock()
	defer g.extMu.Unlock()
	seen := make(map[string]bool)
	var deps []string
	for _, in := range j.Input() {
		if id, ok := g.externalJobID[in]; ok && !seen[id] {
			seen[id] = true
			deps = append(deps, id)
		}
	}
	return strings.Join(deps, " ")
}

func (g *Generic) recordExternalID(j job.Job, id string) {
	g.extMu.Lock()
	defer g.extMu.Unlock()
	for _, out := range j.Output() {
		g.externalJobID[out] = id
	}
}

func (g *Generic) Run(ctx context.Context, j job.Job, onSuccess executor.OnSuccess, onSubmit executor.OnSubmit, onError executor.OnError) error {
	ctx, span := executor.StartJobSpan(ctx, g.Base, "generic", j)
	defer span.End()

	if err := executor.PreRun(g.Base, j); err != nil {
		return err
	}

	scriptPath, err := g.GetJobscript(j)
	if err != nil {
		return err
	}
	jobfinished := scriptPath + ".jobfinished"
	jobfailed := scriptPath + ".jobfailed"
	suffix := fmt.Sprintf("\ntouch_exit=$?\nif [ $touch_exit -eq 0 ]; then touch %q; else touch %q; fi\n",
		jobfinished, jobfailed)
	if err := g.SpawnJobscript(j, scriptPath, suffix); err != nil {
		return err
	}

	ctxVars := map[string]string{"dependencies": g.dependencies(j)}
	for k, v := range g.ClusterWildcards(j) {
		ctxVars["cluster."+k] = v
	}
	submit, err := j.FormatWildcards(g.SubmitCmd, ctxVars)
	if err != nil {
		return &joberrors.WorkflowError{Reason: "failed to format cluster submit command", Rule: j.RuleName(), Cause: err}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf(`%s %q`, submit, scriptPath))
	out, err := cmd.Output()
	if err != nil {
		return &joberrors.WorkflowError{Reason: "cluster submit command exited non-zero", Rule: j.RuleName(), Cause: err}
	}
	extID, err := firstNonEmptyLine(out)
	if err != nil {
		return &joberrors.WorkflowError{Reason: "cluster submit command produced no job id", Rule: j.RuleName(), Cause: err}
	}

	g.recordExternalID(j, extID)
	executor.StartRun(g.Base, j)
	onSubmit(j)

	g.Lock()
	g.active = append(g.active, genericActiveJob{
		Job: j, OnSuccess: onSuccess, OnError: onError,
		Script: scriptPath, JobFinished: jobfinished, JobFailed: jobfailed,
	})
	g.Unlock()
	return nil
}

func firstNonEmptyLine(out []byte) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("no non-empty line in submit output")
}

// pollOnce checks every active job's sentinel files, running the
// success or error protocol for those that have finished and leaving
// the rest queued for the next tick.
func (g *Generic) pollOnce() {
	g.Lock()
	pending := g.active
	g.active = nil
	g.Unlock()

	var stillActive []genericActiveJob
	for _, aj := range pending {
		switch {
		case fileExists(aj.JobFinished):
			_ = os.Remove(aj.JobFinished)
			_ = os.Remove(aj.Script)
			executor.FinishJob(g.Base, aj.Job)
			aj.OnSuccess(aj.Job)
		case fileExists(aj.JobFailed):
			_ = os.Remove(aj.JobFailed)
			_ = os.Remove(aj.Script)
			executor.JobError(g.Base, aj.Job, &joberrors.ClusterJobError{Job: aj.Job, Script: aj.Script, Cause: fmt.Errorf("job script reported failure")})
			aj.OnError(aj.Job)
		default:
			stillActive = append(stillActive, aj)
		}
	}

	g.Lock()
	g.active = append(g.active, stillActive...)
	g.Unlock()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Cancel logs the cancellation and delegates to Shutdown; the generic
// backend has no way to signal already-submitted remote jobs.
func (g *Generic) Cancel() error {
	g.Logger.Warn("generic cluster executor cannot forcibly cancel submitted jobs; waiting for in-flight jobs to finish")
	return g.Shutdown()
}
