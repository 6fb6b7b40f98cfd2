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
)

// RequestThrottler admits requests of one group while the throughput allocated to this
// client for the current cycle is not used up. A request that overdraws the budget is
// still charged, the debt is carried into the next cycle.
type RequestThrottler struct {
	mu        sync.Mutex
	allocated float64
	available float64
	consumed  float64
}

// NewRequestThrottler creates a throttler whose first cycle has the given allocation.
func NewRequestThrottler(allocated float64) *RequestThrottler {
	return &RequestThrottler{
		allocated: allocated,
		available: allocated,
	}
}

// TryAcquire reports whether a request may be sent in the current cycle.
func (t *RequestThrottler) TryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available > 0
}

// Record charges a completed request to the current cycle.
func (t *RequestThrottler) Record(charge float64) {
	if charge <= 0 || math.IsNaN(charge) || math.IsInf(charge, 0) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.available -= charge
	t.consumed += charge
}

// RenewCycle starts a new cycle with the given allocation and returns the fraction of the
// previous allocation that was consumed.
func (t *RequestThrottler) RenewCycle(allocated float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var usage float64
	switch {
	case t.allocated > 0:
		usage = t.consumed / t.allocated
	case t.consumed > 0:
		usage = 1
	}
	t.allocated = allocated
	t.available = allocated + math.Min(0, t.available)
	t.consumed = 0
	return usage
}

// Available returns the budget left in the current cycle.
func (t *RequestThrottler) Available() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

// Allocated returns the allocation of the current cycle.
func (t *RequestThrottler) Allocated() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocated
}
