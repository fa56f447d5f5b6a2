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

package log

import "log/slog"

// JobInfoEvent carries the structured fields rendered by the executor
// base's pre-run log, mirroring spec.md's job_info contract.
type JobInfoEvent struct {
	JobID     string
	Message   string
	Rule      string
	Local     bool
	Input     []string
	Output    []string
	Log       []string
	Benchmark string
	Reason    string
	Resources map[string]int
	Priority  string
	Threads   int
}

// JobInfo logs a single structured "job_info" event at Info level.
func JobInfo(logger *slog.Logger, ev JobInfoEvent) {
	logger.Info("job_info",
		slog.String(EventKey, "job_info"),
		slog.String(JobIDKey, ev.JobID),
		slog.String(RuleKey, ev.Rule),
		slog.String("message", ev.Message),
		slog.Bool("local", ev.Local),
		slog.Any("input", ev.Input),
		slog.Any("output", ev.Output),
		slog.Any("log", ev.Log),
		slog.String("benchmark", ev.Benchmark),
		slog.String("reason", ev.Reason),
		slog.Any("resources", ev.Resources),
		slog.String("priority", ev.Priority),
		slog.Int("threads", ev.Threads),
	)
}

// ShellCmd logs the rendered shell command for a job at Debug level.
func ShellCmd(logger *slog.Logger, jobID, cmd string) {
	logger.Debug("shell command", slog.String(JobIDKey, jobID), slog.String("cmd", cmd))
}

// JobError logs a job failure with its output file list.
func JobError(logger *slog.Logger, jobID string, outputs []string) {
	logger.Error("error creating job output", slog.String(JobIDKey, jobID), slog.Any("output", outputs))
}
