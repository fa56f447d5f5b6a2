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

// Package joberrors is the typed error taxonomy for the job execution
// layer: protected-output failures, workflow misconfiguration, wrapped
// rule exceptions, and failed remote jobs. All types implement error and
// Unwrap() error so callers can use errors.Is/errors.As across the chain.
package joberrors

import (
	"errors"
	"fmt"
)

// ErrInterrupt is a sentinel naming the silent-cleanup path (keyboard
// interrupt / broken pool). No executor in this module returns it: the
// CPU executor recognizes that path by context.Canceled from its worker
// pool.
var ErrInterrupt = errors.New("jobexec: interrupted")

// jobIdentifier is satisfied by pkg/job.Job; declared locally to avoid an
// import cycle between joberrors and job.
type jobIdentifier interface {
	ID() string
	RuleName() string
}

// ProtectedOutputError is raised before any execution when a job's
// declared output already exists and is marked read-only on disk.
type ProtectedOutputError struct {
	Job     jobIdentifier
	Outputs []string
}

func (e *ProtectedOutputError) Error() string {
	return fmt.Sprintf("job %s: output file(s) %v are protected", e.Job.ID(), e.Outputs)
}

// WorkflowError represents misconfiguration: an unreadable jobscript
// template, a missing {jobid} placeholder, a non-zero submit-command
// exit, a benchmark write failure, or a DRMAA load failure. It propagates
// upward and halts the run.
type WorkflowError struct {
	Reason string
	Rule   string
	Cause  error
}

func (e *WorkflowError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("workflow error in rule %s: %s", e.Rule, e.Reason)
	}
	return fmt.Sprintf("workflow error: %s", e.Reason)
}

func (e *WorkflowError) Unwrap() error { return e.Cause }

// RuleError wraps an error returned by a user rule's in-process run
// body (panics are not recovered), attributing it to a source file and line via the workflow's
// linemaps.
type RuleError struct {
	File string
	Line int
	Rule string
	Cause error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s failed at %s:%d: %v", e.Rule, e.File, e.Line, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

// ClusterJobError represents a remote job that failed: a generic-cluster
// jobfailed sentinel, a non-zero synchronous submit exit code, or a
// non-zero DRMAA exit status.
type ClusterJobError struct {
	Job    jobIdentifier
	JobID  string
	Script string
	Cause  error
}

func (e *ClusterJobError) Error() string {
	msg := fmt.Sprintf("cluster job %s (id %s) failed, script %s", e.Job.ID(), e.JobID, e.Script)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ClusterJobError) Unwrap() error { return e.Cause }

// Wrap creates a new error that wraps err with additional context. If err
// is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }
