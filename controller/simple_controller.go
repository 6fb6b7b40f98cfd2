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
	"context"
	"sync"

	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/internal/logutil"
	"github.com/tikv/throughput-control/metrics"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// InstanceCountFunc returns the number of client instances sharing a local group.
type InstanceCountFunc func(ctx context.Context) (int, error)

// SimpleGroupController divides the throughput of a group evenly by the instance count
// reported by a callback. It does not coordinate with other clients.
type SimpleGroupController struct {
	countFn InstanceCountFunc
	opts    options
	groupID string

	mu        sync.Mutex
	group     *config.GroupConfig
	throttler *RequestThrottler
	state     atomic.Int32

	groupTotal    atomic.Float64
	instanceCount atomic.Int64
}

var _ GroupController = (*SimpleGroupController)(nil)

// NewSimpleGroupController creates a controller of a local group.
func NewSimpleGroupController(group *config.GroupConfig, countFn InstanceCountFunc, opts ...Option) (*SimpleGroupController, error) {
	if err := group.Validate(); err != nil {
		return nil, err
	}
	if countFn == nil {
		return nil, tperr.ErrInvalidGroupConfig.GenWithStackByArgs(group.Name, "instance count callback is required")
	}
	return &SimpleGroupController{
		countFn: countFn,
		opts:    newOptions(opts),
		groupID: group.ID(),
		group:   group,
	}, nil
}

// Init implements GroupController. It fails if the first instance count is unavailable.
func (c *SimpleGroupController) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return tperr.ErrControllerState.GenWithStackByArgs(c.groupID, c.State(), StateUninitialized)
	}
	total, err := resolveGroupThroughput(ctx, c.group, c.opts.provisioned)
	if err != nil {
		c.state.Store(int32(StateUninitialized))
		return err
	}
	count, err := c.countFn(ctx)
	if err != nil {
		c.state.Store(int32(StateUninitialized))
		return err
	}
	if count <= 0 {
		c.state.Store(int32(StateUninitialized))
		return tperr.ErrInstanceCount.GenWithStackByArgs(count, c.groupID)
	}
	c.groupTotal.Store(total)
	c.instanceCount.Store(int64(count))
	c.throttler = NewRequestThrottler(total / float64(count))
	c.state.Store(int32(StateRunning))

	metrics.ThroughputGroupTotalGauge.WithLabelValues(c.groupID).Set(total)
	metrics.ThroughputInstanceCountGauge.WithLabelValues(c.groupID).Set(float64(count))
	logutil.Logger(ctx).Info("local throughput control group is running",
		zap.String("group", c.groupID),
		zap.Int("instances", count))
	return nil
}

// ClientAllocatedThroughput implements GroupController. The instance count is refreshed on
// every call, the last valid count is used when the callback fails.
func (c *SimpleGroupController) ClientAllocatedThroughput() float64 {
	if c.State() != StateRunning {
		return 0
	}
	count, err := c.countFn(context.Background())
	switch {
	case err != nil:
		logutil.BgLogger().Warn("get instance count failed, use the last one",
			zap.String("group", c.groupID),
			zap.Int64("instances", c.instanceCount.Load()),
			zap.Error(err))
	case count <= 0:
		logutil.BgLogger().Warn("invalid instance count, use the last one",
			zap.String("group", c.groupID),
			zap.Int("count", count),
			zap.Int64("instances", c.instanceCount.Load()))
	default:
		c.instanceCount.Store(int64(count))
	}
	n := c.instanceCount.Load()
	if n <= 0 {
		return 0
	}
	allocated := c.groupTotal.Load() / float64(n)
	metrics.ThroughputInstanceCountGauge.WithLabelValues(c.groupID).Set(float64(n))
	metrics.ThroughputAllocatedGauge.WithLabelValues(c.groupID).Set(allocated)
	return allocated
}

// RecordThroughputUsage implements GroupController. Usage does not affect the allocation
// of a local group.
func (c *SimpleGroupController) RecordThroughputUsage(float64) {}

// Throttler implements GroupController.
func (c *SimpleGroupController) Throttler() *RequestThrottler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttler
}

// Group implements GroupController.
func (c *SimpleGroupController) Group() *config.GroupConfig {
	return c.group
}

// State implements GroupController.
func (c *SimpleGroupController) State() State {
	return State(c.state.Load())
}

// Close implements GroupController.
func (c *SimpleGroupController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Store(int32(StateCancelled))
}
