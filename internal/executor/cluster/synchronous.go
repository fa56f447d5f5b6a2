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
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/tombee/jobexec/internal/executor"
	"github.com/tombee/jobexec/pkg/job"
	"github.com/tombee/jobexec/pkg/joberrors"
)

// synchronousActiveJob tracks one in-flight submission. Each job owns
// its own done channel and *exec.Cmd; nothing is shared across
// iterations of the submit loop, unlike the blocking-submit reference
// implementation this backend is modeled on.
type synchronousActiveJob struct {
	Job       job.Job
	OnSuccess executor.OnSuccess
	OnError   executor.OnError
	Script    string
	Cmd       *exec.Cmd
	Done      <-chan error
}

// Synchronous submits a job by spawning its configured submit command
// against the jobscript (e.g. `qsub -sync y "<jobscript>"`) and blocking
// on that command's exit code for the job's entire duration; Run starts
// the command and a background goroutine waits on it, so Run returns
// immediately, and a poller drains each job's completion channel without blocking on
// any one of them, per spec.md 4.8.
type Synchronous struct {
	*ClusterExecutor

	// SubmitCmd is rendered with FormatWildcards against {cluster.*}
	// placeholders, then invoked as `<cmd> "<jobscript>"`; its exit code
	// is the completion signal for the job.
	SubmitCmd string

	active []synchronousActiveJob
}

var _ executor.Executor = (*Synchronous)(nil)

// NewSynchronous constructs a Synchronous cluster executor and starts
// its completion poller.
func NewSynchronous(base executor.Base, cfg Config, submitCmd string) (*Synchronous, error) {
	ce, err := NewClusterExecutor(base, cfg)
	if err != nil {
		return nil, err
	}
	s := &Synchronous{ClusterExecutor: ce, SubmitCmd: submitCmd}
	s.StartPoller(pollInterval, s.pollOnce)
	return s, nil
}

func (s *Synchronous) Run(ctx context.Context, j job.Job, onSuccess executor.OnSuccess, onSubmit executor.OnSubmit, onError executor.OnError) error {
	ctx, span := executor.StartJobSpan(ctx, s.Base, "synchronous", j)
	defer span.End()

	if err := executor.PreRun(s.Base, j); err != nil {
		return err
	}

	scriptPath, err := s.GetJobscript(j)
	if err != nil {
		return err
	}
	if err := s.SpawnJobscript(j, scriptPath, ""); err != nil {
		return err
	}

	ctxVars := make(map[string]string)
	for k, v := range s.ClusterWildcards(j) {
		ctxVars["cluster."+k] = v
	}
	submit, err := j.FormatWildcards(s.SubmitCmd, ctxVars)
	if err != nil {
		return &joberrors.WorkflowError{Reason: "failed to format cluster submit command", Rule: j.RuleName(), Cause: err}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf(`%s %q`, submit, scriptPath))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return &joberrors.WorkflowError{Reason: "cluster submit command failed to start", Rule: j.RuleName(), Cause: err}
	}
	go func(c *exec.Cmd, ch chan<- error) {
		ch <- c.Wait()
	}(cmd, done)

	executor.StartRun(s.Base, j)
	onSubmit(j)

	s.Lock()
	s.active = append(s.active, synchronousActiveJob{
		Job: j, OnSuccess: onSuccess, OnError: onError,
		Script: scriptPath, Cmd: cmd, Done: done,
	})
	s.Unlock()
	return nil
}

// pollOnce drains each active job's completion channel without
// blocking; jobs whose process has not yet exited are re-queued for
// the next tick.
func (s *Synchronous) pollOnce() {
	s.Lock()
	pending := s.active
	s.active = nil
	s.Unlock()

	var stillActive []synchronousActiveJob
	for _, aj := range pending {
		select {
		case err := <-aj.Done:
			_ = os.Remove(aj.Script)
			if err != nil {
				executor.JobError(s.Base, aj.Job, &joberrors.ClusterJobError{Job: aj.Job, Script: aj.Script, Cause: err})
				aj.OnError(aj.Job)
			} else {
				executor.FinishJob(s.Base, aj.Job)
				aj.OnSuccess(aj.Job)
			}
		default:
			stillActive = append(stillActive, aj)
		}
	}

	s.Lock()
	s.active = append(s.active, stillActive...)
	s.Unlock()
}

// Cancel kills every in-flight child process, then shuts down.
func (s *Synchronous) Cancel() error {
	s.Logger.Warn("synchronous cluster executor cancelling in-flight jobscripts")
	s.Lock()
	active := s.active
	s.Unlock()
	for _, aj := range active {
		if aj.Cmd.Process != nil {
			_ = aj.Cmd.Process.Kill()
		}
	}
	return s.Shutdown()
}
