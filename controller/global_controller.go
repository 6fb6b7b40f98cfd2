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
	"time"

	"github.com/pkg/errors"
	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/internal/logutil"
	"github.com/tikv/throughput-control/kv"
	"github.com/tikv/throughput-control/metrics"
	"github.com/tikv/throughput-control/trace"
	"github.com/tikv/throughput-control/util"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// GlobalGroupController shares the throughput of a group among all clients of the group.
// Every client periodically publishes its load factor through the shared store and takes
// the share of the group total proportional to its load factor among the live clients.
type GlobalGroupController struct {
	store  kv.ItemStore
	global *config.GlobalControlConfig
	opts   options

	// groupID does not change when the stored config is adopted.
	groupID   string
	manager   *ContainerManager
	estimator *loadEstimator
	opTimeout time.Duration

	// mu serializes Init and Close.
	mu sync.Mutex
	// group is replaced by the stored config during Init.
	group     *config.GroupConfig
	throttler *RequestThrottler
	state     atomic.Int32

	groupTotal  atomic.Float64
	clientShare atomic.Float64
	loadFactor  atomic.Float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ GroupController = (*GlobalGroupController)(nil)

// NewGlobalGroupController creates a controller of a global group coordinating through store.
func NewGlobalGroupController(store kv.ItemStore, group *config.GroupConfig, global *config.GlobalControlConfig,
	opts ...Option) (*GlobalGroupController, error) {
	if err := group.Validate(); err != nil {
		return nil, err
	}
	if global == nil {
		global = config.NewGlobalControlConfig()
	}
	if err := global.Validate(); err != nil {
		return nil, err
	}
	tc := config.GetGlobalConfig().ThroughputControl
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	c := &GlobalGroupController{
		store:     store,
		global:    global,
		opts:      o,
		manager:   NewContainerManager(store, group, o.clientID, global.ExpireInterval, o.clock),
		estimator: newLoadEstimator(o.clock, tc.LoadWindowCapacity, tc.MinLoadFactor),
		opTimeout: tc.StoreOpTimeout,
		group:     group,
		groupID:   group.ID(),
	}
	return c, nil
}

// ClientID returns the id of the client item written by the controller.
func (c *GlobalGroupController) ClientID() string {
	return c.opts.clientID
}

// Init validates the control container, adopts the stored group config, computes the first
// share and writes the client item. The renewal loop is started only if all of these succeed.
// A failed Init leaves the controller uninitialized and may be retried.
func (c *GlobalGroupController) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return tperr.ErrControllerState.GenWithStackByArgs(c.groupID, c.State(), StateUninitialized)
	}
	if err := c.initialize(ctx); err != nil {
		c.state.Store(int32(StateUninitialized))
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.wg.Add(1)
	run := func() {
		defer c.wg.Done()
		util.WithRecovery(func() { c.renewLoop(loopCtx) }, nil)
	}
	if err := c.opts.pool.Run(run); err != nil {
		go run()
	}
	c.state.Store(int32(StateRunning))
	logutil.Logger(ctx).Info("global throughput control group is running",
		zap.String("group", c.groupID),
		zap.String("client", c.opts.clientID),
		zap.Float64("allocated", c.ClientAllocatedThroughput()))
	return nil
}

func (c *GlobalGroupController) initialize(ctx context.Context) error {
	if err := c.withStoreTimeout(ctx, c.manager.ValidateControlContainer); err != nil {
		return err
	}

	expected := &ConfigItem{
		ID:                        ConfigItemID(c.groupID),
		GroupID:                   c.groupID,
		TargetThroughput:          c.group.TargetThroughput,
		TargetThroughputThreshold: c.group.TargetThroughputThreshold,
		IsDefault:                 c.group.IsDefault,
	}
	var stored *ConfigItem
	err := c.withStoreTimeout(ctx, func(ctx context.Context) (err error) {
		stored, err = c.manager.GetOrCreateConfigItem(ctx, expected)
		return err
	})
	if err != nil {
		return err
	}
	group := c.group.WithTargets(stored.TargetThroughput, stored.TargetThroughputThreshold)
	if err := group.Validate(); err != nil {
		return err
	}
	total, err := resolveGroupThroughput(ctx, group, c.opts.provisioned)
	if err != nil {
		return err
	}

	loadFactor := c.estimator.calculateLoadFactor()
	var sum float64
	var instances int
	err = c.withStoreTimeout(ctx, func(ctx context.Context) (err error) {
		sum, instances, err = c.manager.QueryLoadFactorsOfAllClients(ctx, loadFactor)
		return err
	})
	if err != nil {
		return err
	}
	share := loadFactor / sum
	err = c.withStoreTimeout(ctx, func(ctx context.Context) error {
		_, err := c.manager.CreateGroupClientItem(ctx, loadFactor, total*share)
		return err
	})
	if err != nil {
		return err
	}

	c.group = group
	c.throttler = NewRequestThrottler(total * share)
	c.publish(total, loadFactor, share, instances)
	return nil
}

// renewLoop renews the share every renew interval until ctx is cancelled.
func (c *GlobalGroupController) renewLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		timer := c.opts.clock.NewTimer(c.global.RenewInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		if err := c.renewWithRecovery(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.ThroughputRenewCounter.WithLabelValues(c.groupID, "fail").Inc()
			logutil.Logger(ctx).Warn("renew throughput control group failed, keep the last allocation",
				zap.String("group", c.groupID),
				zap.String("client", c.opts.clientID),
				zap.Error(err))
			continue
		}
		metrics.ThroughputRenewCounter.WithLabelValues(c.groupID, "ok").Inc()
	}
}

// renewWithRecovery runs one renewal and reports a panic in it as a failed renewal, so the
// loop keeps running until ctx is cancelled.
func (c *GlobalGroupController) renewWithRecovery(ctx context.Context) (err error) {
	util.WithRecovery(func() { err = c.renew(ctx) }, func(r interface{}) {
		if r != nil {
			err = errors.Errorf("renew panicked: %v", r)
		}
	})
	return err
}

// renew runs one renewal. Store calls are not interrupted by cancellation, but no call is
// started once ctx is cancelled.
func (c *GlobalGroupController) renew(ctx context.Context) error {
	if val, e := util.EvalFailpoint("renewGroupControllerError"); e == nil && val.(bool) {
		return errors.New("injected renew error")
	}
	storeCtx := context.WithoutCancel(ctx)

	total := c.groupTotal.Load()
	if c.group.TargetThroughputThreshold != nil {
		t, err := resolveGroupThroughput(storeCtx, c.group, c.opts.provisioned)
		if err != nil {
			logutil.Logger(ctx).Warn("refresh group total throughput failed, keep the last value",
				zap.String("group", c.groupID),
				zap.Float64("total", total),
				zap.Error(err))
		} else {
			total = t
		}
	}

	loadFactor := c.estimator.calculateLoadFactor()
	if err := ctx.Err(); err != nil {
		return err
	}
	var sum float64
	var instances int
	err := c.withStoreTimeout(storeCtx, func(ctx context.Context) (err error) {
		sum, instances, err = c.manager.QueryLoadFactorsOfAllClients(ctx, loadFactor)
		return err
	})
	if err != nil {
		return err
	}
	share := loadFactor / sum

	if err := ctx.Err(); err != nil {
		return err
	}
	err = c.withStoreTimeout(storeCtx, func(ctx context.Context) error {
		_, err := c.manager.ReplaceOrCreateGroupClientItem(ctx, loadFactor, total*share)
		return err
	})
	if err != nil {
		return err
	}
	c.publish(total, loadFactor, share, instances)
	if trace.IsCategoryEnabled(trace.CategoryRenew) {
		trace.TraceEvent(ctx, trace.CategoryRenew, "renew.done",
			zap.String("group", c.groupID),
			zap.Float64("loadFactor", loadFactor),
			zap.Float64("share", share),
			zap.Int("instances", instances))
	}
	return nil
}

func (c *GlobalGroupController) publish(total, loadFactor, share float64, instances int) {
	c.groupTotal.Store(total)
	c.loadFactor.Store(loadFactor)
	c.clientShare.Store(share)

	id := c.groupID
	metrics.ThroughputGroupTotalGauge.WithLabelValues(id).Set(total)
	metrics.ThroughputLoadFactorGauge.WithLabelValues(id).Set(loadFactor)
	metrics.ThroughputClientShareGauge.WithLabelValues(id).Set(share)
	metrics.ThroughputAllocatedGauge.WithLabelValues(id).Set(total * share)
	metrics.ThroughputInstanceCountGauge.WithLabelValues(id).Set(float64(instances))
}

func (c *GlobalGroupController) withStoreTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.opTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return fn(ctx)
}

// ClientAllocatedThroughput implements GroupController.
func (c *GlobalGroupController) ClientAllocatedThroughput() float64 {
	return c.groupTotal.Load() * c.clientShare.Load()
}

// ClientShare returns the fraction of the group total allocated to this client.
func (c *GlobalGroupController) ClientShare() float64 {
	return c.clientShare.Load()
}

// LoadFactor returns the load factor published by the last renewal.
func (c *GlobalGroupController) LoadFactor() float64 {
	return c.loadFactor.Load()
}

// RecordThroughputUsage implements GroupController.
func (c *GlobalGroupController) RecordThroughputUsage(usage float64) {
	c.estimator.recordUsage(usage)
	metrics.ThroughputUsageHistogram.WithLabelValues(c.groupID).Observe(usage)
}

// Throttler implements GroupController.
func (c *GlobalGroupController) Throttler() *RequestThrottler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttler
}

// Group implements GroupController.
func (c *GlobalGroupController) Group() *config.GroupConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group
}

// State implements GroupController.
func (c *GlobalGroupController) State() State {
	return State(c.state.Load())
}

// Close implements GroupController.
func (c *GlobalGroupController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()
	c.state.Store(int32(StateCancelled))
}
