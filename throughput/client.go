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

// Package throughput is the entry of throughput control. A Client owns the throughput
// control groups of one process and admits requests against the throughput allocated to
// the process in each group.
package throughput

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/tikv/throughput-control/config"
	"github.com/tikv/throughput-control/controller"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/internal/logutil"
	"github.com/tikv/throughput-control/kv"
	"github.com/tikv/throughput-control/metrics"
	"github.com/tikv/throughput-control/trace"
	"github.com/tikv/throughput-control/util"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RequestFunc sends one request and returns the throughput it was charged.
type RequestFunc func(ctx context.Context) (charge float64, err error)

// Option configures a Client.
type Option func(*Client)

// WithPool runs the background loops of the client on pool. The pool is closed with the client.
func WithPool(pool controller.Pool) Option {
	return func(c *Client) {
		c.pool = pool
		c.ctrlOpts = append(c.ctrlOpts, controller.WithPool(pool))
	}
}

// WithClock sets the clock driving the background loops.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
		c.ctrlOpts = append(c.ctrlOpts, controller.WithClock(clock))
	}
}

// WithProvisionedThroughput sets the source of the provisioned throughput used by groups
// with a target throughput threshold.
func WithProvisionedThroughput(fn controller.ProvisionedThroughputFunc) Option {
	return func(c *Client) {
		c.ctrlOpts = append(c.ctrlOpts, controller.WithProvisionedThroughput(fn))
	}
}

// WithClientID sets the id of this client in every global group.
func WithClientID(id string) Option {
	return func(c *Client) {
		c.ctrlOpts = append(c.ctrlOpts, controller.WithClientID(id))
	}
}

type group struct {
	cfg  *config.GroupConfig
	ctrl controller.GroupController
	// bypass is set when the group failed to initialize but allows requests to pass.
	bypass atomic.Bool
}

// Client owns the throughput control groups of a process.
type Client struct {
	store    kv.ItemStore
	clock    clockwork.Clock
	pool     controller.Pool
	ctrlOpts []controller.Option

	mu           sync.RWMutex
	groups       map[string]*group
	defaultGroup *group
	initialized  bool
	closed       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a Client. store is required by global groups only and may be nil
// when only local groups are used.
func NewClient(store kv.ItemStore, opts ...Option) *Client {
	c := &Client{
		store:  store,
		groups: make(map[string]*group),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

// EnableGlobalGroup adds a group whose throughput is shared with the other clients of the
// group through the store.
func (c *Client) EnableGlobalGroup(cfg *config.GroupConfig, global *config.GlobalControlConfig) error {
	if c.store == nil {
		return tperr.ErrInvalidGroupConfig.GenWithStackByArgs(cfg.Name, "global group requires an item store")
	}
	ctrl, err := controller.NewGlobalGroupController(c.store, cfg, global, c.ctrlOpts...)
	if err != nil {
		return err
	}
	return c.addGroup(cfg, ctrl)
}

// EnableLocalGroup adds a group whose throughput is divided evenly by the instance count
// returned by countFn.
func (c *Client) EnableLocalGroup(cfg *config.GroupConfig, countFn controller.InstanceCountFunc) error {
	ctrl, err := controller.NewSimpleGroupController(cfg, countFn, c.ctrlOpts...)
	if err != nil {
		return err
	}
	return c.addGroup(cfg, ctrl)
}

func (c *Client) addGroup(cfg *config.GroupConfig, ctrl controller.GroupController) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized || c.closed {
		return errors.Errorf("cannot enable group %s on an initialized client", cfg.Name)
	}
	if _, ok := c.groups[cfg.Name]; ok {
		return tperr.ErrGroupAlreadyExists.GenWithStackByArgs(cfg.Name)
	}
	if cfg.IsDefault && c.defaultGroup != nil {
		return tperr.ErrDuplicateDefaultGroup.GenWithStackByArgs(c.defaultGroup.cfg.Name, cfg.Name)
	}
	g := &group{cfg: cfg, ctrl: ctrl}
	c.groups[cfg.Name] = g
	if cfg.IsDefault {
		c.defaultGroup = g
	}
	return nil
}

// Init initializes all groups concurrently and starts their usage cycles. A group that
// fails to initialize fails the client unless it continues on init error, in which case
// its requests bypass throughput control.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized || c.closed {
		return errors.New("throughput control client is already initialized")
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range c.groups {
		g := g
		eg.Go(func() error {
			err := g.ctrl.Init(egCtx)
			if err == nil {
				return nil
			}
			if g.cfg.ContinueOnInitError {
				logutil.Logger(ctx).Warn("throughput control group failed to initialize, requests bypass it",
					zap.String("group", g.cfg.Name),
					zap.Error(err))
				g.bypass.Store(true)
				return nil
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		for _, g := range c.groups {
			g.ctrl.Close()
		}
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	interval := config.GetGlobalConfig().ThroughputControl.UsageCycleInterval
	for _, g := range c.groups {
		if g.bypass.Load() {
			continue
		}
		g := g
		c.wg.Add(1)
		run := func() {
			defer c.wg.Done()
			util.WithRecovery(func() { c.usageCycleLoop(loopCtx, g, interval) }, nil)
		}
		if c.pool == nil || c.pool.Run(run) != nil {
			go run()
		}
	}
	c.initialized = true
	return nil
}

// usageCycleLoop starts a new admission cycle of the group every interval and reports the
// usage of the finished cycle to the controller.
func (c *Client) usageCycleLoop(ctx context.Context, g *group, interval time.Duration) {
	throttler := g.ctrl.Throttler()
	for {
		timer := c.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
		usage := throttler.RenewCycle(g.ctrl.ClientAllocatedThroughput())
		g.ctrl.RecordThroughputUsage(usage)
	}
}

// ProcessRequest sends a request under the throughput control of the named group, or of
// the default group when name is empty. Requests of unknown groups are sent directly.
// tperr.ErrRequestThrottled is returned without sending when the allocation of the group
// is used up for the current cycle.
func (c *Client) ProcessRequest(ctx context.Context, name string, fn RequestFunc) error {
	g := c.resolveGroup(name)
	if g == nil || g.bypass.Load() {
		_, err := fn(ctx)
		return err
	}
	throttler := g.ctrl.Throttler()
	if throttler == nil {
		_, err := fn(ctx)
		return err
	}
	if !throttler.TryAcquire() {
		metrics.ThroughputRequestCounter.WithLabelValues(g.cfg.ID(), "throttled").Inc()
		trace.TraceEvent(ctx, trace.CategoryAdmission, "request.throttled", zap.String("group", g.cfg.Name))
		return tperr.ErrRequestThrottled.GenWithStackByArgs(g.cfg.Name)
	}
	charge, err := fn(ctx)
	throttler.Record(charge)
	if err != nil {
		metrics.ThroughputRequestCounter.WithLabelValues(g.cfg.ID(), "error").Inc()
		return err
	}
	metrics.ThroughputRequestCounter.WithLabelValues(g.cfg.ID(), "ok").Inc()
	return nil
}

func (c *Client) resolveGroup(name string) *group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized || c.closed {
		return nil
	}
	if name == "" {
		return c.defaultGroup
	}
	return c.groups[name]
}

// AllocatedThroughput returns the throughput currently allocated to this client in the
// named group.
func (c *Client) AllocatedThroughput(name string) (float64, bool) {
	g := c.resolveGroup(name)
	if g == nil || g.bypass.Load() {
		return 0, false
	}
	return g.ctrl.ClientAllocatedThroughput(), true
}

// Close stops all groups and closes the pool.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	for _, g := range c.groups {
		g.ctrl.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
