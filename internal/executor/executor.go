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

// Package executor defines the uniform backend contract (Run, Shutdown,
// Cancel) and the shared pre/post-job protocol every backend runs
// around it. Concrete backends (dry-run, touch, CPU, and -- in the
// sibling cluster package -- generic/synchronous/DRMAA) call the free
// functions here explicitly rather than inheriting them, since Go has no
// base-class "super" to lean on.
package executor

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	joblog "github.com/tombee/jobexec/internal/log"
	"github.com/tombee/jobexec/internal/stats"
	"github.com/tombee/jobexec/pkg/job"
)

// OnSuccess is invoked after a job finishes, its outputs are verified,
// and its persistence marker is cleared.
type OnSuccess func(j job.Job)

// OnSubmit is invoked after a backend accepts a submission (cluster
// backends only); purely synchronous executors never call it.
type OnSubmit func(j job.Job)

// OnError is invoked after a job fails and cleanup has already run.
type OnError func(j job.Job)

// Executor is the uniform contract every backend implements.
type Executor interface {
	// Run accepts a job; it may complete synchronously or schedule
	// asynchronous completion. Exactly one of onSuccess/onError is
	// eventually invoked, except on the silent interrupt path.
	Run(ctx context.Context, j job.Job, onSuccess OnSuccess, onSubmit OnSubmit, onError OnError) error

	// Shutdown releases resources; blocks until any background poller
	// has exited. Idempotent with respect to completion.
	Shutdown() error

	// Cancel requests early termination of in-flight jobs where the
	// backend supports it; otherwise behaves like Shutdown after
	// in-flight drain.
	Cancel() error
}

// Base holds the fields and collaborators every backend needs for the
// shared pre/post-job protocol. Concrete backends embed Base.
type Base struct {
	Workflow *job.Workflow
	DAG      job.DAG

	LatencyWait time.Duration

	Logger *slog.Logger
	Stats  *stats.Collector
}

// NewBase constructs a Base with a default logger when logger is nil,
// matching the teacher convention of defaulting to slog.Default().
func NewBase(wf *job.Workflow, dag job.DAG, latencyWait time.Duration, logger *slog.Logger, collector *stats.Collector) Base {
	if logger == nil {
		logger = slog.Default()
	}
	return Base{Workflow: wf, DAG: dag, LatencyWait: latencyWait, Logger: logger, Stats: collector}
}

// PreRun runs the shared pre-run protocol from spec.md 4.1: protected
// output check, structured job-info log, and a dynamic-output notice.
// Backends call this before spawning any subprocess or scheduling work.
func PreRun(b Base, j job.Job) error {
	if err := j.CheckProtectedOutput(); err != nil {
		return err
	}

	if b.DAG.Dynamic(j) {
		// Dynamic placeholder jobs are only "executed" in dry-run mode;
		// nothing further to log.
		return nil
	}

	var priority string
	p := b.DAG.Priority(j)
	if p == job.HighestPriority {
		priority = "highest"
	} else {
		priority = strconv.Itoa(p)
	}

	joblog.JobInfo(b.Logger, joblog.JobInfoEvent{
		JobID:     b.DAG.JobID(j),
		Message:   j.RuleName(),
		Rule:      j.RuleName(),
		Local:     j.IsLocal(),
		Input:     j.Input(),
		Output:    j.Output(),
		Log:       j.Log(),
		Benchmark: j.Benchmark(),
		Reason:    b.DAG.Reason(j),
		Resources: j.Resources(),
		Priority:  priority,
		Threads:   j.Threads(),
	})

	if j.DynamicOutput() {
		b.Logger.Info("subsequent jobs will be added dynamically depending on the output of this rule",
			slog.String(joblog.JobIDKey, b.DAG.JobID(j)))
	}

	if b.Stats != nil {
		b.Stats.RecordSubmitted(context.Background(), j.RuleName())
	}
	return nil
}

// FinishJob runs the shared post-run success protocol from spec.md 4.1:
// DAG side effects in order, then the persistence marker. Persistence IO
// failures are logged, never propagated.
func FinishJob(b Base, j job.Job) {
	if err := b.DAG.HandleTouch(j); err != nil {
		b.Logger.Warn("handle_touch failed", slog.String(joblog.JobIDKey, b.DAG.JobID(j)), slog.Any("error", err))
	}
	if err := b.DAG.CheckOutput(j, b.LatencyWait); err != nil {
		b.Logger.Warn("check_output failed", slog.String(joblog.JobIDKey, b.DAG.JobID(j)), slog.Any("error", err))
	}
	if err := b.DAG.HandleProtected(j); err != nil {
		b.Logger.Warn("handle_protected failed", slog.String(joblog.JobIDKey, b.DAG.JobID(j)), slog.Any("error", err))
	}
	if err := b.DAG.HandleTemp(j); err != nil {
		b.Logger.Warn("handle_temp failed", slog.String(joblog.JobIDKey, b.DAG.JobID(j)), slog.Any("error", err))
	}
	if b.Stats != nil {
		b.Stats.ReportJobEnd(context.Background(), j.ID())
		b.Stats.RecordSucceeded(context.Background(), j.RuleName())
	}
	if b.Workflow != nil && b.Workflow.Persistence != nil {
		if err := b.Workflow.Persistence.Finished(j); err != nil {
			b.Logger.Info("failed to remove marker file for job started",
				slog.Any("error", err), slog.String("path", b.Workflow.Persistence.Path()))
		}
	}
}

// JobError runs the shared error protocol from spec.md 4.1: log, clean
// up partially-produced outputs, clear the persistence marker.
func JobError(b Base, j job.Job, err error) {
	joblog.JobError(b.Logger, b.DAG.JobID(j), j.Output())
	b.Logger.Error("job failed", slog.String(joblog.JobIDKey, b.DAG.JobID(j)), slog.Any("error", err))
	if cerr := j.Cleanup(); cerr != nil {
		b.Logger.Warn("job cleanup failed", slog.String(joblog.JobIDKey, b.DAG.JobID(j)), slog.Any("error", cerr))
	}
	if b.Workflow != nil && b.Workflow.Persistence != nil {
		if perr := b.Workflow.Persistence.Cleanup(j); perr != nil {
			b.Logger.Info("failed to clean up persistence marker", slog.Any("error", perr))
		}
	}
	if b.Stats != nil {
		b.Stats.RecordFailed(context.Background(), j.RuleName())
	}
}

// StartJobSpan starts the "jobexec.<backend>.run" span for a backend's
// Run call, resolving the job/rule/priority attributes from the DAG.
// Callers must defer span.End() on the returned span.
func StartJobSpan(ctx context.Context, b Base, backend string, j job.Job) (context.Context, trace.Span) {
	return b.Stats.StartJobSpan(ctx, backend, b.DAG.JobID(j), j.RuleName(), b.DAG.Priority(j))
}

// StartRun marks job start for stats purposes and writes the
// persistence "started" marker. IO failure is logged, never propagated.
func StartRun(b Base, j job.Job) {
	if b.Stats != nil {
		b.Stats.ReportJobStart(j.ID())
	}
	if b.Workflow != nil && b.Workflow.Persistence != nil {
		if err := b.Workflow.Persistence.Started(j); err != nil {
			b.Logger.Info("failed to set marker file for job started",
				slog.Any("error", err), slog.String("path", b.Workflow.Persistence.Path()))
		}
	}
}
