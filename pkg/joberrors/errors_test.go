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

package joberrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	id   string
	rule string
}

func (j fakeJob) ID() string       { return j.id }
func (j fakeJob) RuleName() string { return j.rule }

func TestProtectedOutputError(t *testing.T) {
	err := &ProtectedOutputError{Job: fakeJob{id: "1", rule: "align"}, Outputs: []string{"out.bam"}}
	assert.Contains(t, err.Error(), "1")
	assert.Contains(t, err.Error(), "out.bam")
}

func TestWorkflowErrorFormatting(t *testing.T) {
	withRule := &WorkflowError{Reason: "missing binary", Rule: "align"}
	assert.Contains(t, withRule.Error(), "align")
	assert.Contains(t, withRule.Error(), "missing binary")

	withoutRule := &WorkflowError{Reason: "bad config"}
	assert.NotContains(t, withoutRule.Error(), "rule")
	assert.Contains(t, withoutRule.Error(), "bad config")
}

func TestWorkflowErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &WorkflowError{Reason: "failed", Cause: cause}
	assert.True(t, errors.Is(err, cause))
}

func TestRuleErrorAttribution(t *testing.T) {
	err := &RuleError{File: "Snakefile", Line: 42, Rule: "align", Cause: errors.New("boom")}
	assert.Contains(t, err.Error(), "Snakefile:42")
	assert.Contains(t, err.Error(), "align")
}

func TestClusterJobErrorUnwrap(t *testing.T) {
	cause := errors.New("submit failed")
	err := &ClusterJobError{Job: fakeJob{id: "2", rule: "call"}, JobID: "123", Script: "job.sh", Cause: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "123")
	assert.Contains(t, err.Error(), "job.sh")
}

func TestWrapNilIsNil(t *testing.T) {
	require.Nil(t, Wrap(nil, "context"))
	require.Nil(t, Wrapf(nil, "context %d", 1))
}

func TestWrapAddsContext(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(cause, "writing benchmark")
	assert.True(t, errors.Is(wrapped, cause))
	assert.Contains(t, wrapped.Error(), "writing benchmark")
}

func TestIsAndAs(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrapf(cause, "writing %s", "benchmark")
	assert.True(t, Is(wrapped, cause))

	var wfErr *WorkflowError
	wrappedWorkflow := Wrap(&WorkflowError{Reason: "bad"}, "outer")
	assert.True(t, As(wrappedWorkflow, &wfErr))
	assert.Equal(t, "bad", wfErr.Reason)
}

func TestErrInterruptIsSentinel(t *testing.T) {
	assert.ErrorIs(t, ErrInterrupt, ErrInterrupt)
}
