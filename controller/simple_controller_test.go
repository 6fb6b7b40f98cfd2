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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
)

type instanceCounter struct {
	count int
	err   error
	calls int
}

func (c *instanceCounter) get(context.Context) (int, error) {
	c.calls++
	return c.count, c.err
}

func newLocalGroup() *config.GroupConfig {
	return &config.GroupConfig{Name: "local", TargetResource: "db/coll", TargetThroughput: floatPtr(1000)}
}

func TestSimpleGroupController(t *testing.T) {
	counter := &instanceCounter{count: 4}
	c, err := NewSimpleGroupController(newLocalGroup(), counter.get)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.ClientAllocatedThroughput())

	require.NoError(t, c.Init(context.Background()))
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, 250.0, c.ClientAllocatedThroughput())
	assert.Equal(t, 250.0, c.Throttler().Allocated())

	// Usage has no effect.
	c.RecordThroughputUsage(0)
	assert.Equal(t, 250.0, c.ClientAllocatedThroughput())

	// Failures keep the last count.
	counter.err = errors.New("discovery unavailable")
	assert.Equal(t, 250.0, c.ClientAllocatedThroughput())
	counter.err = nil
	counter.count = 0
	assert.Equal(t, 250.0, c.ClientAllocatedThroughput())

	// The count is read again on every call.
	counter.count = 2
	assert.Equal(t, 500.0, c.ClientAllocatedThroughput())
	assert.Equal(t, 6, counter.calls)

	c.Close()
	assert.Equal(t, StateCancelled, c.State())
	assert.Equal(t, 0.0, c.ClientAllocatedThroughput())
	assert.True(t, tperr.ErrControllerState.Equal(c.Init(context.Background())))
}

func TestSimpleGroupControllerInitFailure(t *testing.T) {
	counter := &instanceCounter{err: errors.New("discovery unavailable")}
	c, err := NewSimpleGroupController(newLocalGroup(), counter.get)
	require.NoError(t, err)
	assert.EqualError(t, c.Init(context.Background()), "discovery unavailable")
	assert.Equal(t, StateUninitialized, c.State())

	counter.err = nil
	err = c.Init(context.Background())
	assert.True(t, tperr.ErrInstanceCount.Equal(err))
	assert.Equal(t, StateUninitialized, c.State())

	counter.count = 3
	require.NoError(t, c.Init(context.Background()))
	assert.InDelta(t, 1000.0/3, c.ClientAllocatedThroughput(), 1e-9)
}

func TestSimpleGroupControllerThreshold(t *testing.T) {
	group := &config.GroupConfig{
		Name:                      "local",
		TargetResource:            "db/coll",
		TargetThroughput:          floatPtr(300),
		TargetThroughputThreshold: floatPtr(0.5),
	}
	provisioned := func(ctx context.Context, resource string) (float64, error) {
		return 1000, nil
	}
	c, err := NewSimpleGroupController(group, (&instanceCounter{count: 2}).get, WithProvisionedThroughput(provisioned))
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	// min(300, 0.5 * 1000) / 2
	assert.Equal(t, 150.0, c.ClientAllocatedThroughput())
}

func TestNewSimpleGroupControllerValidation(t *testing.T) {
	_, err := NewSimpleGroupController(newLocalGroup(), nil)
	assert.True(t, tperr.ErrInvalidGroupConfig.Equal(err))

	_, err = NewSimpleGroupController(&config.GroupConfig{Name: "local", TargetResource: "db/coll"}, (&instanceCounter{}).get)
	assert.True(t, tperr.ErrInvalidGroupConfig.Equal(err))
}
