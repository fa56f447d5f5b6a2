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
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	joblog "github.com/tombee/jobexec/internal/log"
	"github.com/tombee/jobexec/pkg/job"
)

func TestPreRunEmitsDynamicOutputNoticeForDeclaringJob(t *testing.T) {
	var buf bytes.Buffer
	logger := joblog.New(&joblog.Config{Level: "info", Format: joblog.FormatJSON, Output: &buf})

	wf := &job.Workflow{Persistence: job.NewMemPersistence()}
	dag := job.NewSimpleDAG()
	base := NewBase(wf, dag, time.Second, logger, nil)

	j := &job.StaticJob{IDValue: "1", Rule: "split", Dynamic: true}
	require.NoError(t, PreRun(base, j))

	var sawNotice bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if msg, _ := entry["msg"].(string); strings.Contains(msg, "added dynamically") {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice, "a job declaring dynamic outputs must emit the informational notice")
}

func TestPreRunSkipsEverythingForDAGPlaceholderJobs(t *testing.T) {
	var buf bytes.Buffer
	logger := joblog.New(&joblog.Config{Level: "info", Format: joblog.FormatJSON, Output: &buf})

	wf := &job.Workflow{Persistence: job.NewMemPersistence()}
	dag := job.NewSimpleDAG()
	base := NewBase(wf, dag, time.Second, logger, nil)

	j := &job.StaticJob{IDValue: "2", Rule: "split"}
	dag.SetPlaceholder(j, true)

	require.NoError(t, PreRun(base, j))
	assert.Empty(t, strings.TrimSpace(buf.String()), "a DAG placeholder job must not be logged at all")
}
