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
	"time"
)

// UsageSnapshot is one measurement of the fraction of the allocated throughput that was
// actually consumed.
type UsageSnapshot struct {
	throughputUsage float64
	captureTime     time.Time
	weight          float64
}

// NewUsageSnapshot creates a snapshot of the usage captured at captureTime.
func NewUsageSnapshot(throughputUsage float64, captureTime time.Time) *UsageSnapshot {
	return &UsageSnapshot{
		throughputUsage: throughputUsage,
		captureTime:     captureTime,
	}
}

// ThroughputUsage returns the consumed fraction, 1.0 means the allocation was fully used.
func (s *UsageSnapshot) ThroughputUsage() float64 {
	return s.throughputUsage
}

// CaptureTime returns when the snapshot was taken.
func (s *UsageSnapshot) CaptureTime() time.Time {
	return s.captureTime
}

// Weight returns the weight computed by the last CalculateWeight call.
func (s *UsageSnapshot) Weight() float64 {
	return s.weight
}

// CalculateWeight computes e^(seconds from referenceTime to the capture time) and keeps it
// for Weight. The later the snapshot relative to the reference, the larger its weight.
func (s *UsageSnapshot) CalculateWeight(referenceTime time.Time) float64 {
	s.weight = math.Exp(s.captureTime.Sub(referenceTime).Seconds())
	return s.weight
}
