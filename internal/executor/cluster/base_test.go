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
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/jobexec/internal/executor"
	"github.com/tombee/jobexec/pkg/job"
)

func newTestClusterBase(t *testing.T) executor.Base {
	t.Helper()
	wf := &job.Workflow{
		EnginePath:  "true",
		Snakefile:   "Snakefile",
		WorkdirInit: t.TempDir(),
		Persistence: job.NewMemPersistence(),
	}
	dag := job.NewSimpleDAG()
	return executor.NewBase(wf, dag, time.Second, slog.Default(), nil)
}

func TestNewClusterExecutorRequiresEnginePath(t *testing.T) {
	base := newTestClusterBase(t)
	base.Workflow.EnginePath = ""
	_, err := NewClusterExecutor(base, Config{Jobname: "job.{jobid}.sh"})
	assert.Error(t, err)
}

func TestNewClusterExecutorRequiresJobidPlaceholder(t *testing.T) {
	base := newTestClusterBase(t)
	_, err := NewClusterExecutor(base, Config{Jobname: "job.sh"})
	assert.Error(t, err)
}

func TestNewClusterExecutorDefaultsJobname(t *testing.T) {
	base := newTestClusterBase(t)
	ce, err := NewClusterExecutor(base, Config{})
	require.NoError(t, err)
	assert.Contains(t, ce.cfg.Jobname, jobidPlaceholder)
}

func TestTmpdirIsLazyAndStable(t *testing.T) {
	base := newTestClusterBase(t)
	ce, err := NewClusterExecutor(base, Config{Jobname: "job.{jobid}.sh"})
	require.NoError(t, err)
	defer os.RemoveAll(ce.tmpdir)

	dir1, err := ce.Tmpdir()
	require.NoError(t, err)
	dir2, err := ce.Tmpdir()
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)

	info, err := os.Stat(dir1)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	base1 := filepath.Base(dir1)
	assert.True(t, regexp.MustCompile(`^tmp\.[A-Z0-9]{6}$`).MatchString(base1), "unexpected tmpdir name: %s", base1)
}

func TestClusterWildcardsMergesDefaultAndRule(t *testing.T) {
	base := newTestClusterBase(t)
	ce, err := NewClusterExecutor(base, Config{
		Jobname: "job.{jobid}.sh",
		ClusterConfig: map[string]map[string]string{
			"__default__": {"queue": "short", "mem": "4G"},
			"align":       {"mem": "16G"},
		},
	})
	require.NoError(t, err)

	j := &job.StaticJob{Rule: "align"}
	merged := ce.ClusterWildcards(j)
	assert.Equal(t, "short", merged["queue"])
	assert.Equal(t, "16G", merged["mem"], "rule-level value must override default")
}

func TestClusterWildcardsHasNoProfileInheritanceBeyondRule(t *testing.T) {
	base := newTestClusterBase(t)
	ce, err := NewClusterExecutor(base, Config{
		Jobname: "job.{jobid}.sh",
		ClusterConfig: map[string]map[string]string{
			"__default__": {"queue": "short"},
			"other_rule":  {"queue": "long"},
		},
	})
	require.NoError(t, err)

	j := &job.StaticJob{Rule: "align"}
	merged := ce.ClusterWildcards(j)
	assert.Equal(t, "short", merged["queue"], "unrelated rule overlays must not apply")
}

func TestSpawnJobscriptWritesExecutableFile(t *testing.T) {
	base := newTestClusterBase(t)
	ce, err := NewClusterExecutor(base, Config{Jobname: "job.{jobid}.sh"})
	require.NoError(t, err)
	defer ce.Shutdown()

	scriptPath, err := ce.GetJobscript(&job.StaticJob{IDValue: "1", Rule: "align"})
	require.NoError(t, err)

	require.NoError(t, ce.SpawnJobscript(&job.StaticJob{IDValue: "1", Rule: "align"}, scriptPath, ""))

	info, err := os.Stat(scriptPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "jobscript must be executable")

	data, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--allowed-rules align")
}

func TestRenderExecJobOmitsAllowedRulesForDynamicDAG(t *testing.T) {
	base := newTestClusterBase(t)
	dag := base.DAG.(*job.SimpleDAG)
	dag.SetHasDynamicOutputJobs(true)

	ce, err := NewClusterExecutor(base, Config{Jobname: "job.{jobid}.sh"})
	require.NoError(t, err)
	defer ce.Shutdown()

	out, err := ce.renderExecJob(&job.StaticJob{IDValue: "1", Rule: "align"})
	require.NoError(t, err)
	assert.NotContains(t, out, "--allowed-rules")
}

func TestTmpdirStartsFsnotifyWatcher(t *testing.T) {
	base := newTestClusterBase(t)
	ce, err := NewClusterExecutor(base, Config{Jobname: "job.{jobid}.sh"})
	require.NoError(t, err)
	defer ce.Shutdown()

	_, err = ce.Tmpdir()
	require.NoError(t, err)
	assert.NotNil(t, ce.watcher, "Tmpdir must arm the sentinel-file watcher")
}

func TestPollerWakesImmediatelyOnSentinelFile(t *testing.T) {
	base := newTestClusterBase(t)
	ce, err := NewClusterExecutor(base, Config{Jobname: "job.{jobid}.sh"})
	require.NoError(t, err)
	defer ce.Shutdown()

	tmpdir, err := ce.Tmpdir()
	require.NoError(t, err)

	polled := make(chan struct{}, 8)
	ce.StartPoller(10*time.Second, func() { polled <- struct{}{} })

	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("poller never ran its initial tick")
	}

	require.NoError(t, os.WriteFile(filepath.Join(tmpdir, "job.1.sh.jobfinished"), nil, 0o644))

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("fsnotify event never woke the poller ahead of the 10s interval")
	}
}

func TestShutdownRemovesTmpdir(t *testing.T) {
	base := newTestClusterBase(t)
	ce, err := NewClusterExecutor(base, Config{Jobname: "job.{jobid}.sh"})
	require.NoError(t, err)

	dir, err := ce.Tmpdir()
	require.NoError(t, err)
	require.NoError(t, ce.Shutdown())

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}
