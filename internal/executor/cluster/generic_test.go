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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/jobexec/pkg/job"
	"github.com/tombee/jobexec/pkg/joberrors"
)

func TestGenericRunSubmitsAndPollerDetectsSuccess(t *testing.T) {
	base := newTestClusterBase(t)
	g, err := NewGeneric(base, Config{Jobname: "job.{jobid}.sh"}, "echo job-123 && ")
	require.NoError(t, err)
	defer g.Shutdown()

	j := &job.StaticJob{IDValue: "1", Rule: "align"}

	success := make(chan struct{})
	var submitted bool
	err = g.Run(context.Background(), j,
		func(job.Job) { close(success) },
		func(job.Job) { submitted = true },
		func(job.Job) { t.Error("unexpected job failure") },
	)
	require.NoError(t, err)
	assert.True(t, submitted)

	select {
	case <-success:
	case <-time.After(3 * time.Second):
		t.Fatal("poller never observed the jobfinished sentinel")
	}
}

func TestGenericRunSubmitFailureReturnsWorkflowError(t *testing.T) {
	base := newTestClusterBase(t)
	g, err := NewGeneric(base, Config{Jobname: "job.{jobid}.sh"}, "false && ")
	require.NoError(t, err)
	defer g.Shutdown()

	j := &job.StaticJob{IDValue: "1", Rule: "align"}
	err = g.Run(context.Background(), j,
		func(job.Job) { t.Error("unexpected success") },
		func(job.Job) {},
		func(job.Job) {},
	)

	var workflowErr *joberrors.WorkflowError
	require.ErrorAs(t, err, &workflowErr, "a non-zero submit-command exit is a workflow error, not a remote-job failure")
}

func TestGenericDependenciesJoinsKnownProducerIDs(t *testing.T) {
	base := newTestClusterBase(t)
	g, err := NewGeneric(base, Config{Jobname: "job.{jobid}.sh"}, "echo noop && ")
	require.NoError(t, err)
	defer g.Shutdown()

	producer := &job.StaticJob{IDValue: "p1", OutputPaths: []string{"a.txt"}}
	g.recordExternalID(producer, "ext-1")

	consumer := &job.StaticJob{IDValue: "c1", InputPaths: []string{"a.txt", "unknown.txt"}}
	assert.Equal(t, "ext-1", g.dependencies(consumer))
}

func TestGenericDependenciesEmptyWhenNoProducersKnown(t *testing.T) {
	base := newTestClusterBase(t)
	g, err := NewGeneric(base, Config{Jobname: "job.{jobid}.sh"}, "echo noop && ")
	require.NoError(t, err)
	defer g.Shutdown()

	consumer := &job.StaticJob{IDValue: "c1", InputPaths: []string{"unknown.txt"}}
	assert.Empty(t, g.dependencies(consumer))
}

func TestGenericPollOnceDistinguishesFinishedFromFailed(t *testing.T) {
	base := newTestClusterBase(t)
	g, err := NewGeneric(base, Config{Jobname: "job.{jobid}.sh"}, "echo noop && ")
	require.NoError(t, err)
	defer g.Shutdown()

	dir := t.TempDir()
	okJob := &job.StaticJob{IDValue: "ok"}
	failJob := &job.StaticJob{IDValue: "fail"}
	pendingJob := &job.StaticJob{IDValue: "pending"}

	okFinished := dir + "/ok.jobfinished"
	failFailed := dir + "/fail.jobfailed"
	require.NoError(t, os.WriteFile(okFinished, nil, 0o644))
	require.NoError(t, os.WriteFile(failFailed, nil, 0o644))

	var okSeen, failSeen bool
	g.Lock()
	g.active = []genericActiveJob{
		{Job: okJob, OnSuccess: func(job.Job) { okSeen = true }, OnError: func(job.Job) {}, Script: dir + "/ok.sh", JobFinished: okFinished, JobFailed: dir + "/ok.jobfailed"},
		{Job: failJob, OnSuccess: func(job.Job) {}, OnError: func(job.Job) { failSeen = true }, Script: dir + "/fail.sh", JobFinished: dir + "/fail.jobfinished", JobFailed: failFailed},
		{Job: pendingJob, OnSuccess: func(job.Job) { t.Error("pending job must not be reported finished") }, OnError: func(job.Job) { t.Error("pending job must not be reported failed") }, Script: dir + "/pending.sh", JobFinished: dir + "/pending.jobfinished", JobFailed: dir + "/pending.jobfailed"},
	}
	g.Unlock()

	g.pollOnce()

	assert.True(t, okSeen)
	assert.True(t, failSeen)

	g.Lock()
	defer g.Unlock()
	require.Len(t, g.active, 1, "the still-pending job must be re-queued")
	assert.Equal(t, "pending", g.active[0].Job.ID())
}
