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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/jobexec/pkg/job"
)

func TestTouchExecutorCreatesDeclaredOutputs(t *testing.T) {
	base := newTestBase(t)
	e := NewTouch(base)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	j := &job.StaticJob{IDValue: "1", Rule: "align", OutputPaths: []string{out}}

	var succeeded bool
	err := e.Run(context.Background(), j, func(job.Job) { succeeded = true }, func(job.Job) {}, func(job.Job) {})
	require.NoError(t, err)
	assert.True(t, succeeded)

	_, statErr := os.Stat(out)
	assert.NoError(t, statErr)
}

func TestTouchExecutorMarksJobStartedThenFinished(t *testing.T) {
	base := newTestBase(t)
	e := NewTouch(base)
	persistence := base.Workflow.Persistence.(*job.MemPersistence)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	j := &job.StaticJob{IDValue: "2", OutputPaths: []string{out}}

	err := e.Run(context.Background(), j, func(job.Job) {}, func(job.Job) {}, func(job.Job) {})
	require.NoError(t, err)
	assert.False(t, persistence.IsStarted(j), "marker should be cleared again after success")
}
