// Copyright 2025 Kadir Pekel
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

package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type runStatus string

const (
	runStatusRunning   runStatus = "running"
	runStatusCompleted runStatus = "completed"
	runStatusFailed    runStatus = "failed"
)

// retention is how long a finished run stays pollable.
const retention = 10 * time.Minute

// run is one asynchronous agent invocation.
type run struct {
	id       string
	agent    string
	status   runStatus
	output   string
	err      error
	finished time.Time
}

// runStore tracks asynchronous runs in memory. Finished runs are swept
// after the retention window; an abandoned poll never leaks memory
// forever.
type runStore struct {
	mu   sync.Mutex
	runs map[string]*run
}

func newRunStore() *runStore {
	return &runStore{runs: make(map[string]*run)}
}

// start registers a new run and executes fn on its own goroutine.
// It returns the run id immediately.
func (s *runStore) start(agent string, fn func() (string, error)) string {
	id := uuid.NewString()

	s.mu.Lock()
	s.sweepLocked()
	s.runs[id] = &run{id: id, agent: agent, status: runStatusRunning}
	s.mu.Unlock()

	go func() {
		output, err := fn()

		s.mu.Lock()
		defer s.mu.Unlock()
		rn := s.runs[id]
		rn.finished = time.Now()
		if err != nil {
			rn.status = runStatusFailed
			rn.err = err
			return
		}
		rn.status = runStatusCompleted
		rn.output = output
	}()

	return id
}

// get returns a snapshot of the run, so callers read it without holding
// the store lock.
func (s *runStore) get(id string) (run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rn, ok := s.runs[id]
	if !ok {
		return run{}, false
	}
	return *rn, true
}

func (s *runStore) sweepLocked() {
	cutoff := time.Now().Add(-retention)
	for id, rn := range s.runs {
		if rn.status != runStatusRunning && rn.finished.Before(cutoff) {
			delete(s.runs, id)
		}
	}
}
