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
	"os/exec"

	"github.com/tombee/jobexec/pkg/job"
)

// runShell executes j's rendered shell command via "sh -c", inheriting
// the current process's environment and standard streams.
func runShell(ctx context.Context, j job.Job) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", j.ShellCmd())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
