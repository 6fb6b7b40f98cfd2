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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestThrottler(t *testing.T) {
	th := NewRequestThrottler(10)
	assert.True(t, th.TryAcquire())
	th.Record(4)
	assert.Equal(t, 6.0, th.Available())

	// Overdraw is allowed once and becomes debt.
	th.Record(8)
	assert.False(t, th.TryAcquire())
	assert.InDelta(t, 1.2, th.RenewCycle(10), 1e-12)
	assert.Equal(t, 8.0, th.Available())
	assert.Equal(t, 10.0, th.Allocated())

	// Unused budget is not carried over.
	assert.Equal(t, 0.0, th.RenewCycle(5))
	assert.Equal(t, 5.0, th.Available())

	th.Record(-1)
	th.Record(0)
	assert.Equal(t, 5.0, th.Available())
}

func TestRequestThrottlerZeroAllocation(t *testing.T) {
	th := NewRequestThrottler(0)
	assert.False(t, th.TryAcquire())
	assert.Equal(t, 0.0, th.RenewCycle(0))
	th.Record(1)
	assert.Equal(t, 1.0, th.RenewCycle(2))
	assert.Equal(t, 1.0, th.Available())
}

func TestRequestThrottlerConcurrent(t *testing.T) {
	th := NewRequestThrottler(1000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if th.TryAcquire() {
					th.Record(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0.0, th.Available())
	assert.Equal(t, 1.0, th.RenewCycle(1000))
}
