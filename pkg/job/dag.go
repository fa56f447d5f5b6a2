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
	"fmt"
	"os"
	"sync"
	"time"
)

// SimpleDAG is a minimal DAG implementation that assigns sequential job
// ids and performs real filesystem side effects for temp/protected
// handling; HandleTouch is a no-op. It stands in for the dependency-graph package, which is out
// of scope for the execution layer.
type SimpleDAG struct {
	mu           sync.Mutex
	ids          map[string]string
	next         int
	reasons      map[string]string
	placeholders map[string]bool
	hasDynamic   bool
	tempOutputs  map[string][]string
	protectAfter map[string][]string
}

// NewSimpleDAG constructs an empty SimpleDAG.
func NewSimpleDAG() *SimpleDAG {
	return &SimpleDAG{
		ids:          make(map[string]string),
		reasons:      make(map[string]string),
		placeholders: make(map[string]bool),
		tempOutputs:  make(map[string][]string),
		protectAfter: make(map[string][]string),
	}
}

var _ DAG = (*SimpleDAG)(nil)

// SetReason records the human-readable reason job needs to run.
func (d *SimpleDAG) SetReason(j Job, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons[j.ID()] = reason
}

// SetTempOutputs marks paths belonging to job as temporary, to be removed
// by HandleTemp.
func (d *SimpleDAG) SetTempOutputs(j Job, paths []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tempOutputs[j.ID()] = paths
}

// SetHasDynamicOutputJobs controls DynamicOutputJobs for the whole DAG.
func (d *SimpleDAG) SetHasDynamicOutputJobs(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hasDynamic = v
}

// SetPlaceholder marks job as a dynamic-output placeholder the DAG has
// not yet expanded, distinct from a job merely declaring dynamic
// outputs (j.DynamicOutput()). Only placeholder jobs are skipped by
// Dynamic; a normal job whose rule declares dynamic outputs still runs
// and still gets the informational notice in PreRun.
func (d *SimpleDAG) SetPlaceholder(j Job, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.placeholders[j.ID()] = v
}

func (d *SimpleDAG) JobID(j Job) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[j.ID()]; ok {
		return id
	}
	id := fmt.Sprintf("%d", d.next)
	d.next++
	d.ids[j.ID()] = id
	return id
}

func (d *SimpleDAG) Priority(j Job) int { return j.Priority() }

func (d *SimpleDAG) Reason(j Job) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reasons[j.ID()]
}

func (d *SimpleDAG) Dynamic(j Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.placeholders[j.ID()]
}

func (d *SimpleDAG) DynamicOutputJobs() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasDynamic
}

func (d *SimpleDAG) HandleTouch(j Job) error { return nil }

// CheckOutput polls for the existence of every declared output, retrying
// once per 50ms until wait elapses.
func (d *SimpleDAG) CheckOutput(j Job, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for _, out := range j.ExpandedOutput() {
		for {
			if _, err := os.Stat(out); err == nil {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("output %s not visible after %s", out, wait)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
	return nil
}

func (d *SimpleDAG) HandleProtected(j Job) error {
	d.mu.Lock()
	paths := d.protectAfter[j.ID()]
	d.mu.Unlock()
	for _, p := range paths {
		if err := os.Chmod(p, 0o444); err != nil {
			return err
		}
	}
	return nil
}

func (d *SimpleDAG) HandleTemp(j Job) error {
	d.mu.Lock()
	paths := d.tempOutputs[j.ID()]
	d.mu.Unlock()
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
