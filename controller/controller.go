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
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
)

// GroupController computes the throughput this client may use in a group.
type GroupController interface {
	// Init prepares the controller. Only errors returned by Init reach the caller, a
	// running controller absorbs every failure and keeps its last allocation.
	Init(ctx context.Context) error
	// ClientAllocatedThroughput returns the throughput currently allocated to this client.
	ClientAllocatedThroughput() float64
	// RecordThroughputUsage reports the fraction of the allocation consumed in a cycle.
	RecordThroughputUsage(usage float64)
	// Throttler returns the request throttler of the group, nil before Init succeeds.
	Throttler() *RequestThrottler
	// Group returns the effective group config.
	Group() *config.GroupConfig
	State() State
	// Close stops the background loops of the controller and waits for them to exit.
	Close()
}

// State is the lifecycle state of a controller.
type State int32

// Controller states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ProvisionedThroughputFunc returns the throughput provisioned for a target resource. It
// is required by groups that use a target throughput threshold.
type ProvisionedThroughputFunc func(ctx context.Context, resource string) (float64, error)

type options struct {
	clock       clockwork.Clock
	pool        Pool
	provisioned ProvisionedThroughputFunc
	clientID    string
}

// Option configures a controller.
type Option func(*options)

// WithClock sets the clock driving the background loops.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithPool runs the background loops on pool.
func WithPool(pool Pool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// WithProvisionedThroughput sets the source of the provisioned throughput of the target
// resource.
func WithProvisionedThroughput(fn ProvisionedThroughputFunc) Option {
	return func(o *options) {
		o.provisioned = fn
	}
}

// WithClientID sets the id of this client instance. A random UUID is used by default.
func WithClientID(id string) Option {
	return func(o *options) {
		o.clientID = id
	}
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.pool == nil {
		o.pool = goroutinePool{}
	}
	if o.clientID == "" {
		o.clientID = uuid.New().String()
	}
	return o
}

// resolveGroupThroughput returns the total throughput of a group. When both targets are
// set the smaller one is used.
func resolveGroupThroughput(ctx context.Context, group *config.GroupConfig, provisioned ProvisionedThroughputFunc) (float64, error) {
	total := math.Inf(1)
	if group.TargetThroughput != nil {
		total = *group.TargetThroughput
	}
	if group.TargetThroughputThreshold != nil {
		if provisioned == nil {
			return 0, tperr.ErrInvalidGroupConfig.GenWithStackByArgs(group.Name,
				"target throughput threshold requires the provisioned throughput of the target resource")
		}
		p, err := provisioned(ctx, group.TargetResource)
		if err != nil {
			return 0, err
		}
		total = math.Min(total, *group.TargetThroughputThreshold*p)
	}
	if math.IsInf(total, 1) {
		return 0, tperr.ErrInvalidGroupConfig.GenWithStackByArgs(group.Name,
			"target throughput or target throughput threshold is required")
	}
	return total, nil
}
