// Copyright 2026 TiKV Authors
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

package controller

import (
	"math"
	"sync"

	"github.com/jonboulle/clockwork"
)

// loadEstimator keeps a bounded window of usage snapshots and turns it into a load factor.
// recordUsage is called from request completion paths while the renewal loop calls
// calculateLoadFactor, both hold mu only while touching the window.
type loadEstimator struct {
	mu            sync.Mutex
	clock         clockwork.Clock
	minLoadFactor float64
	// ring buffer, snapshots[head] is the oldest one.
	snapshots []*UsageSnapshot
	head      int
	size      int
}

func newLoadEstimator(clock clockwork.Clock, capacity int, minLoadFactor float64) *loadEstimator {
	if capacity <= 0 {
		capacity = 1
	}
	e := &loadEstimator{
		clock:         clock,
		minLoadFactor: minLoadFactor,
		snapshots:     make([]*UsageSnapshot, capacity),
	}
	// Seed with full usage so the first share is well-defined before any request completes.
	e.recordUsage(1.0)
	return e
}

func (e *loadEstimator) recordUsage(usage float64) {
	if math.IsNaN(usage) || math.IsInf(usage, 0) {
		return
	}
	if usage < 0 {
		usage = 0
	}
	snapshot := NewUsageSnapshot(usage, e.clock.Now())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.size < len(e.snapshots) {
		e.snapshots[(e.head+e.size)%len(e.snapshots)] = snapshot
		e.size++
		return
	}
	e.snapshots[e.head] = snapshot
	e.head = (e.head + 1) % len(e.snapshots)
}

// calculateLoadFactor returns the exponentially weighted average of the usage in the
// window, never less than minLoadFactor.
func (e *loadEstimator) calculateLoadFactor() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.size == 0 {
		return e.minLoadFactor
	}
	// Weights are relative to the newest snapshot so every exponent is <= 0. Normalizing
	// makes the average independent of the reference point.
	reference := e.snapshots[(e.head+e.size-1)%len(e.snapshots)].CaptureTime()
	var totalWeight float64
	for i := 0; i < e.size; i++ {
		totalWeight += e.snapshots[(e.head+i)%len(e.snapshots)].CalculateWeight(reference)
	}
	var loadFactor float64
	for i := 0; i < e.size; i++ {
		s := e.snapshots[(e.head+i)%len(e.snapshots)]
		loadFactor += s.Weight() / totalWeight * s.ThroughputUsage()
	}
	return math.Max(e.minLoadFactor, loadFactor)
}
