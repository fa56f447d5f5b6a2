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
	"time"

	"github.com/tombee/jobexec/pkg/job"
)

// touchSettle is how long Touch sleeps after updating mtimes, to ensure
// timestamp ordering is observable on low-resolution filesystems.
const touchSettle = 100 * time.Millisecond

// Touch updates the mtime of every declared output (and the benchmark
// path, if any) to the current time instead of running the rule body.
type Touch struct {
	Base
}

var _ Executor = (*Touch)(nil)

// NewTouch constructs a Touch executor.
func NewTouch(base Base) *Touch {
	return &Touch{Base: base}
}

func (e *Touch) Run(ctx context.Context, j job.Job, onSuccess OnSuccess, onSubmit OnSubmit, onError OnError) error {
	ctx, span := StartJobSpan(ctx, e.Base, "touch", j)
	defer span.End()

	if err := PreRun(e.Base, j); err != nil {
		return err
	}
	StartRun(e.Base, j)

	if err := job.TouchOutputs(j); err != nil {
		JobError(e.Base, j, err)
		onError(j)
		return nil
	}

	time.Sleep(touchSettle)
	FinishJob(e.Base, j)
	onSuccess(j)
	return nil
}

func (e *Touch) Shutdown() error { return nil }
func (e *Touch) Cancel() error   { return nil }
