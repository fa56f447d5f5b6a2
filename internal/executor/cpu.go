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

package executor

import (
	"context"
	"errors"

	"github.com/tombee/jobexec/internal/workerpool"
	"github.com/tombee/jobexec/pkg/job"
)

// CPU runs jobs on a local worker pool: shell jobs go to the thread
// pool, in-process jobs go to the process pool (or the thread pool too,
// when UseThreads is set), per spec.md 4.4's routing rule.
type CPU struct {
	Base

	BenchmarkRepeats int
	UseThreads       bool

	threadPool   *workerpool.Pool
	processPool  *workerpool.Pool
}

var _ Executor = (*CPU)(nil)

// NewCPU constructs a CPU executor with workers goroutines in each pool.
func NewCPU(base Base, workers int, useThreads bool, benchmarkRepeats int) *CPU {
	return &CPU{
		Base:             base,
		BenchmarkRepeats: benchmarkRepeats,
		UseThreads:       useThreads,
		threadPool:       workerpool.New(workers),
		processPool:      workerpool.New(workers),
	}
}

func (e *CPU) pool(j job.Job) *workerpool.Pool {
	if j.ShellCmd() != "" {
		return e.threadPool
	}
	if e.UseThreads {
		return e.threadPool
	}
	return e.processPool
}

func (e *CPU) Run(ctx context.Context, j job.Job, onSuccess OnSuccess, onSubmit OnSubmit, onError OnError) error {
	ctx, span := StartJobSpan(ctx, e.Base, "cpu", j)
	defer span.End()

	if err := PreRun(e.Base, j); err != nil {
		return err
	}
	if err := j.Prepare(); err != nil {
		return err
	}
	StartRun(e.Base, j)

	pool := e.pool(j)
	var runErr error

	pool.Submit(func(taskCtx context.Context) error {
		if j.ShellCmd() != "" {
			runErr = runShell(taskCtx, j)
		} else {
			runErr = RunWrapper(RunWrapperParams{
				Run:              j.RunFunc(),
				Input:            j.Input(),
				Output:           j.Output(),
				Params:           j.Params(),
				Wildcards:        j.Wildcards(),
				Threads:          j.Threads(),
				Resources:        j.Resources(),
				Log:              j.Log(),
				Version:          j.Version(),
				Benchmark:        j.Benchmark(),
				BenchmarkRepeats: e.BenchmarkRepeats,
				Rule:             j.RuleName(),
				LineMaps:         e.Workflow.LineMaps,
			})
		}
		return runErr
	}, func(res workerpool.Result) {
		e.complete(j, res, onSuccess, onError)
	})
	return nil
}

// complete implements the CPU executor's done-callback: on success it
// runs the post-run protocol and calls onSuccess; on a pool-cancellation
// (interrupt / broken pool) it silently cleans up without invoking any
// callback; on any other error it runs the error protocol.
func (e *CPU) complete(j job.Job, res workerpool.Result, onSuccess OnSuccess, onError OnError) {
	if res.Err == nil {
		FinishJob(e.Base, j)
		onSuccess(j)
		return
	}

	if errors.Is(res.Err, context.Canceled) {
		_ = j.Cleanup()
		if e.Workflow != nil && e.Workflow.Persistence != nil {
			_ = e.Workflow.Persistence.Cleanup(j)
		}
		return
	}

	JobError(e.Base, j, res.Err)
	onError(j)
}

func (e *CPU) Shutdown() error {
	e.threadPool.Shutdown()
	e.processPool.Shutdown()
	return nil
}

func (e *CPU) Cancel() error {
	e.threadPool.Cancel()
	e.processPool.Cancel()
	return nil
}
