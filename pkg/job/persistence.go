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

import "sync"

// MemPersistence is an in-memory Persistence implementation standing in
// for the real marker-file store, which lives outside this layer.
type MemPersistence struct {
	mu      sync.Mutex
	started map[string]bool
}

// NewMemPersistence constructs an empty MemPersistence.
func NewMemPersistence() *MemPersistence {
	return &MemPersistence{started: make(map[string]bool)}
}

var _ Persistence = (*MemPersistence)(nil)

func (p *MemPersistence) Started(j Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started[j.ID()] = true
	return nil
}

func (p *MemPersistence) Finished(j Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.started, j.ID())
	return nil
}

func (p *MemPersistence) Cleanup(j Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.started, j.ID())
	return nil
}

func (p *MemPersistence) Path() string { return "<memory>" }

// IsStarted reports whether Started was called without a matching
// Finished/Cleanup. Used by tests to assert marker lifecycle.
func (p *MemPersistence) IsStarted(j Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started[j.ID()]
}
