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
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/jobexec/pkg/job"
)

func TestSynchronousRunBlocksThenPollerReportsSuccess(t *testing.T) {
	base := newTestClusterBase(t)
	s, err := NewSynchronous(base, Config{Jobname: "job.{jobid}.sh"}, "")
	require.NoError(t, err)
	defer s.Shutdown()

	j := &job.StaticJob{IDValue: "1", Rule: "align"}

	success := make(chan struct{})
	err = s.Run(context.Background(), j,
		func(job.Job) { close(success) },
		func(job.Job) {},
		func(job.Job) { t.Error("unexpected job failure") },
	)
	require.NoError(t, err)

	select {
	case <-success:
	case <-time.After(3 * time.Second):
		t.Fatal("poller never observed process exit")
	}
}

func TestSynchronousRunFailingEngineRoutesToJobError(t *testing.T) {
	base := newTestClusterBase(t)
	base.Workflow.EnginePath = "false"
	s, err := NewSynchronous(base, Config{Jobname: "job.{jobid}.sh"}, "")
	require.NoError(t, err)
	defer s.Shutdown()

	j := &job.StaticJob{IDValue: "1", Rule: "align"}

	failed := make(chan struct{})
	err = s.Run(context.Background(), j,
		func(job.Job) { t.Error("unexpected success") },
		func(job.Job) {},
		func(job.Job) { close(failed) },
	)
	require.NoError(t, err)

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("poller never observed the failing exit code")
	}
}

func TestSynchronousRunInvokesConfiguredSubmitCommand(t *testing.T) {
	base := newTestClusterBase(t)
	base.Workflow.EnginePath = "false"
	// The submit command wraps the jobscript and forces success
	// regardless of what the jobscript itself would have done, proving
	// the submit command -- not the jobscript -- is what actually gets
	// spawned and polled for completion.
	s, err := NewSynchronous(base, Config{Jobname: "job.{jobid}.sh"}, "true")
	require.NoError(t, err)
	defer s.Shutdown()

	j := &job.StaticJob{IDValue: "1", Rule: "align"}

	success := make(chan struct{})
	err = s.Run(context.Background(), j,
		func(job.Job) { close(success) },
		func(job.Job) {},
		func(job.Job) { t.Error("unexpected job failure: submit command was bypassed") },
	)
	require.NoError(t, err)

	select {
	case <-success:
	case <-time.After(3 * time.Second):
		t.Fatal("poller never observed the submit command's exit")
	}
}

func TestSynchronousEachActiveJobKeepsItsOwnScript(t *testing.T) {
	base := newTestClusterBase(t)
	s, err := NewSynchronous(base, Config{Jobname: "job.{jobid}.sh"}, "")
	require.NoError(t, err)
	defer s.Shutdown()

	jobA := &job.StaticJob{IDValue: "a", Rule: "align"}
	jobB := &job.StaticJob{IDValue: "b", Rule: "call"}

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	require.NoError(t, s.Run(context.Background(), jobA, func(job.Job) { close(doneA) }, func(job.Job) {}, func(job.Job) { close(doneA) }))
	require.NoError(t, s.Run(context.Background(), jobB, func(job.Job) { close(doneB) }, func(job.Job) {}, func(job.Job) { close(doneB) }))

	s.Lock()
	require.Len(t, s.active, 2)
	scriptA, scriptB := s.active[0].Script, s.active[1].Script
	s.Unlock()
	assert.NotEqual(t, scriptA, scriptB, "each submitted job must own a distinct script path")

	<-doneA
	<-doneB
}

func TestSynchronousCancelKillsInFlightProcessAndShutsDown(t *testing.T) {
	base := newTestClusterBase(t)
	s, err := NewSynchronous(base, Config{Jobname: "job.{jobid}.sh"}, "")
	require.NoError(t, err)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	j := &job.StaticJob{IDValue: "1", Rule: "align"}
	s.Lock()
	s.active = []synchronousActiveJob{{Job: j, OnSuccess: func(job.Job) {}, OnError: func(job.Job) {}, Script: "", Cmd: cmd, Done: done}}
	s.Unlock()

	require.NoError(t, s.Cancel())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not kill the in-flight process")
	}
}
