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
	"fmt"
	"os"
	"time"

	"github.com/tombee/jobexec/pkg/job"
	"github.com/tombee/jobexec/pkg/joberrors"
)

// RunWrapperParams bundles the arguments the run wrapper passes through
// to a rule's in-process body, matching spec.md's run_wrapper signature.
type RunWrapperParams struct {
	Run              job.RunFunc
	Input            []string
	Output           []string
	Params           map[string]string
	Wildcards        map[string]string
	Threads          int
	Resources        map[string]int
	Log              []string
	Version          string
	Benchmark        string
	BenchmarkRepeats int
	Rule             string
	LineMaps         map[string]job.LineMap
}

// RunWrapper executes a rule body Runs times (Runs = BenchmarkRepeats if
// Benchmark is set, else 1), records a wall-clock sample per invocation,
// and on success writes a two-column TSV benchmark file. Any error from
// Run is wrapped as a RuleError attributing it to the rule's source
// location via LineMaps.
func RunWrapper(p RunWrapperParams) error {
	runs := 1
	if p.Benchmark != "" {
		runs = p.BenchmarkRepeats
		if runs <= 0 {
			runs = 1
		}
	}

	wallclock := make([]time.Duration, 0, runs)
	for i := 0; i < runs; i++ {
		start := time.Now()
		err := p.Run(p.Input, p.Output, p.Params, p.Wildcards, p.Threads, p.Resources, p.Log, p.Version)
		elapsed := time.Since(start)
		if err != nil {
			lm := p.LineMaps[p.Rule]
			return &joberrors.RuleError{File: lm.File, Line: lm.Line, Rule: p.Rule, Cause: err}
		}
		wallclock = append(wallclock, elapsed)
	}

	if p.Benchmark != "" {
		if err := writeBenchmark(p.Benchmark, wallclock); err != nil {
			return &joberrors.WorkflowError{Reason: "failed to write benchmark file", Rule: p.Rule, Cause: err}
		}
	}
	return nil
}

// writeBenchmark writes the two-column TSV (s, h:m:s) benchmark file:
// one header row plus one row per repeat.
func writeBenchmark(path string, wallclock []time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "s\th:m:s\n"); err != nil {
		return err
	}
	for _, d := range wallclock {
		seconds := d.Seconds()
		if _, err := fmt.Fprintf(f, "%f\t%s\n", seconds, formatHMS(d)); err != nil {
			return err
		}
	}
	return nil
}

// formatHMS renders a duration as H:MM:SS[.ffffff], matching Python's
// str(datetime.timedelta(seconds=t)).
func formatHMS(d time.Duration) string {
	total := d.Seconds()
	hours := int(total) / 3600
	minutes := (int(total) % 3600) / 60
	seconds := int(total) % 60
	micros := int64((total - float64(int(total))) * 1e6)
	if micros == 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d:%02d.%06d", hours, minutes, seconds, micros)
}
