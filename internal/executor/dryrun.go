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

	joblog "github.com/tombee/jobexec/internal/log"
	"github.com/tombee/jobexec/pkg/job"
)

// DryRun renders a job's info and shell command without executing
// anything. It never spawns a child process, never touches persistence,
// and always invokes onSuccess synchronously.
type DryRun struct {
	Base
}

var _ Executor = (*DryRun)(nil)

// NewDryRun constructs a DryRun executor.
func NewDryRun(base Base) *DryRun {
	return &DryRun{Base: base}
}

func (e *DryRun) Run(ctx context.Context, j job.Job, onSuccess OnSuccess, onSubmit OnSubmit, onError OnError) error {
	ctx, span := StartJobSpan(ctx, e.Base, "dryrun", j)
	defer span.End()

	if err := PreRun(e.Base, j); err != nil {
		return err
	}
	joblog.ShellCmd(e.Logger, e.DAG.JobID(j), j.ShellCmd())
	onSuccess(j)
	return nil
}

func (e *DryRun) Shutdown() error { return nil }
func (e *DryRun) Cancel() error   { return nil }
