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

	"github.com/dgruber/drmaa"

	"github.com/tombee/jobexec/internal/executor"
	"github.com/tombee/jobexec/pkg/job"
	"github.com/tombee/jobexec/pkg/joberrors"
)

// drmaaActiveJob tracks one job submitted to the DRM via its session
// job id.
type drmaaActiveJob struct {
	Job       job.Job
	OnSuccess executor.OnSuccess
	OnError   executor.OnError
	Script    string
	JobID     string
}

// DRMAA submits jobs through a DRMAA session, polling each job's state
// with JobPs instead of calling the blocking Wait, so one slow job never
// stalls the others. Cancel issues a Terminate control for every
// outstanding job id before shutting the session down, per spec.md 4.9.
type DRMAA struct {
	*ClusterExecutor

	// DrmaaArgs is rendered with FormatWildcards against {cluster.*}
	// placeholders and passed to the DRM as the job's native
	// specification (queue, slots, and any other DRM-specific flags).
	DrmaaArgs string

	session drmaa.Session
	active  []drmaaActiveJob
}

var _ executor.Executor = (*DRMAA)(nil)

// NewDRMAA opens a DRMAA session, constructs a DRMAA cluster executor,
// and starts its completion poller.
func NewDRMAA(base executor.Base, cfg Config, drmaaArgs string) (*DRMAA, error) {
	ce, err := NewClusterExecutor(base, cfg)
	if err != nil {
		return nil, err
	}

	session, err := drmaa.MakeSession()
	if err != nil {
		return nil, &joberrors.WorkflowError{Reason: "failed to initialize DRMAA session", Cause: err}
	}

	d := &DRMAA{ClusterExecutor: ce, DrmaaArgs: drmaaArgs, session: session}
	d.StartPoller(pollInterval, d.pollOnce)
	return d, nil
}

func (d *DRMAA) Run(ctx context.Context, j job.Job, onSuccess executor.OnSuccess, onSubmit executor.OnSubmit, onError executor.OnError) error {
	ctx, span := executor.StartJobSpan(ctx, d.Base, "drmaa", j)
	defer span.End()

	if err := executor.PreRun(d.Base, j); err != nil {
		return err
	}

	scriptPath, err := d.GetJobscript(j)
	if err != nil {
		return err
	}
	if err := d.SpawnJobscript(j, scriptPath, ""); err != nil {
		return err
	}

	jt, err := d.session.AllocateJobTemplate()
	if err != nil {
		return &joberrors.ClusterJobError{Job: j, Script: scriptPath, Cause: err}
	}
	defer d.session.DeleteJobTemplate(&jt)

	if err := jt.SetRemoteCommand(scriptPath); err != nil {
		return &joberrors.ClusterJobError{Job: j, Script: scriptPath, Cause: err}
	}
	if err := jt.SetJobName(j.RuleName()); err != nil {
		return &joberrors.ClusterJobError{Job: j, Script: scriptPath, Cause: err}
	}
	if d.DrmaaArgs != "" {
		ctxVars := make(map[string]string)
		for k, v := range d.ClusterWildcards(j) {
			ctxVars["cluster."+k] = v
		}
		nativeSpec, err := j.FormatWildcards(d.DrmaaArgs, ctxVars)
		if err != nil {
			return &joberrors.WorkflowError{Reason: "failed to format drmaa_args", Rule: j.RuleName(), Cause: err}
		}
		if err := jt.SetNativeSpecification(nativeSpec); err != nil {
			return &joberrors.ClusterJobError{Job: j, Script: scriptPath, Cause: err}
		}
	}

	jobID, err := d.session.RunJob(&jt)
	if err != nil {
		return &joberrors.ClusterJobError{Job: j, Script: scriptPath, Cause: err}
	}

	executor.StartRun(d.Base, j)
	onSubmit(j)

	d.Lock()
	d.active = append(d.active, drmaaActiveJob{
		Job: j, OnSuccess: onSuccess, OnError: onError,
		Script: scriptPath, JobID: jobID,
	})
	d.Unlock()
	return nil
}

// pollOnce checks every active job's state with JobPs, reaping those the
// DRM reports as done or failed with a non-blocking Wait (TimeoutNoWait),
// and re-queuing everything else, including jobs whose state query fails.
func (d *DRMAA) pollOnce() {
	d.Lock()
	pending := d.active
	d.active = nil
	d.Unlock()

	var stillActive []drmaaActiveJob
	for _, aj := range pending {
		status, err := d.session.JobPs(aj.JobID)
		if err != nil {
			stillActive = append(stillActive, aj)
			continue
		}
		switch status {
		case drmaa.PsDone:
			_, _ = d.session.Wait(aj.JobID, drmaa.TimeoutNoWait)
			_ = os.Remove(aj.Script)
			executor.FinishJob(d.Base, aj.Job)
			aj.OnSuccess(aj.Job)
		case drmaa.PsFailed:
			_, _ = d.session.Wait(aj.JobID, drmaa.TimeoutNoWait)
			_ = os.Remove(aj.Script)
			executor.JobError(d.Base, aj.Job, &joberrors.ClusterJobError{Job: aj.Job, JobID: aj.JobID, Script: aj.Script})
			aj.OnError(aj.Job)
		default:
			stillActive = append(stillActive, aj)
		}
	}

	d.Lock()
	d.active = append(d.active, stillActive...)
	d.Unlock()
}

// Cancel terminates every outstanding DRM job before shutting the
// executor (and its session) down.
func (d *DRMAA) Cancel() error {
	d.Logger.Warn("drmaa cluster executor terminating in-flight jobs")
	d.Lock()
	active := d.active
	d.Unlock()
	for _, aj := range active {
		_ = d.session.Control(aj.JobID, drmaa.Terminate)
	}
	return d.Shutdown()
}

// Shutdown stops the poller, exits the DRMAA session, then releases the
// shared cluster-executor resources (jobscript temp directory).
func (d *DRMAA) Shutdown() error {
	err := d.ClusterExecutor.Shutdown()
	if serr := d.session.Exit(); serr != nil && err == nil {
		err = serr
	}
	return err
}
