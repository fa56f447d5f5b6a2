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

package job

import (
	"os"
	"time"
)

// Touch updates the mtime (and atime) of path to now, creating an empty
// file if it does not already exist. This backs the touch executor's
// "update timestamps on declared outputs without running the rule body"
// behavior.
func Touch(path string) error {
	now := time.Now()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		f.Close()
	}
	return os.Chtimes(path, now, now)
}

// TouchOutputs touches every expanded output of j, plus its benchmark
// path if one is declared.
func TouchOutputs(j Job) error {
	for _, out := range j.ExpandedOutput() {
		if err := Touch(out); err != nil {
			return err
		}
	}
	if b := j.Benchmark(); b != "" {
		if err := Touch(b); err != nil {
			return err
		}
	}
	return nil
}
