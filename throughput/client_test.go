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

package throughput

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/internal/mockstore/memstore"
	"github.com/tikv/throughput-control/kv"
	"github.com/tikv/throughput-control/trace"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClient(t *testing.T) {
	suite.Run(t, new(testClientSuite))
}

type testClientSuite struct {
	suite.Suite
	clock  clockwork.FakeClock
	store  *memstore.MemStore
	client *Client
	ctx    context.Context
}

func floatPtr(v float64) *float64 {
	return &v
}

func charge(n float64) RequestFunc {
	return func(context.Context) (float64, error) {
		return n, nil
	}
}

func (s *testClientSuite) SetupTest() {
	s.clock = clockwork.NewFakeClock()
	s.store = memstore.New(memstore.WithClock(s.clock))
	s.client = NewClient(s.store, WithClock(s.clock), WithClientID("c1"))
	s.ctx = context.Background()
}

func (s *testClientSuite) TearDownTest() {
	s.client.Close()
}

func (s *testClientSuite) globalGroup(name string, throughput float64, isDefault bool) *config.GroupConfig {
	return &config.GroupConfig{
		Name:             name,
		TargetResource:   "db/coll",
		TargetThroughput: floatPtr(throughput),
		IsDefault:        isDefault,
	}
}

// nextCycle fires the usage cycle timers and waits for every loop to sleep again. Renew
// timers use the default ten seconds interval and do not fire.
func (s *testClientSuite) nextCycle(sleepers int) {
	s.clock.BlockUntil(sleepers)
	s.clock.Advance(config.GetGlobalConfig().ThroughputControl.UsageCycleInterval)
	s.clock.BlockUntil(sleepers)
}

func (s *testClientSuite) TestThrottleGlobalGroup() {
	s.Require().NoError(s.client.EnableGlobalGroup(s.globalGroup("g1", 10, true), nil))
	s.Require().NoError(s.client.Init(s.ctx))
	allocated, ok := s.client.AllocatedThroughput("g1")
	s.True(ok)
	s.InDelta(10, allocated, 1e-9)

	for i := 0; i < 10; i++ {
		s.Require().NoError(s.client.ProcessRequest(s.ctx, "g1", charge(1)))
	}
	err := s.client.ProcessRequest(s.ctx, "", charge(1))
	s.True(tperr.IsErrRequestThrottled(err))

	// A new cycle restores the budget. One renew loop and one usage loop sleep.
	s.nextCycle(2)
	s.Nil(s.client.ProcessRequest(s.ctx, "g1", charge(1)))
}

func (s *testClientSuite) TestRequestError() {
	s.Require().NoError(s.client.EnableGlobalGroup(s.globalGroup("g1", 10, false), nil))
	s.Require().NoError(s.client.Init(s.ctx))
	err := s.client.ProcessRequest(s.ctx, "g1", func(context.Context) (float64, error) {
		return 10, errors.New("backend busy")
	})
	s.EqualError(err, "backend busy")
	// The failed request is still charged.
	s.True(tperr.IsErrRequestThrottled(s.client.ProcessRequest(s.ctx, "g1", charge(1))))
}

func (s *testClientSuite) TestUngroupedRequests() {
	s.Require().NoError(s.client.EnableGlobalGroup(s.globalGroup("g1", 1, false), nil))
	s.Require().NoError(s.client.Init(s.ctx))
	// Without a default group, unnamed and unknown requests are not controlled.
	for i := 0; i < 5; i++ {
		s.Nil(s.client.ProcessRequest(s.ctx, "", charge(1)))
		s.Nil(s.client.ProcessRequest(s.ctx, "other", charge(1)))
	}
	_, ok := s.client.AllocatedThroughput("other")
	s.False(ok)
}

func (s *testClientSuite) TestLocalGroup() {
	cfg := &config.GroupConfig{Name: "local", TargetResource: "db/coll", TargetThroughput: floatPtr(10)}
	s.Require().NoError(s.client.EnableLocalGroup(cfg, func(context.Context) (int, error) { return 2, nil }))
	s.Require().NoError(s.client.Init(s.ctx))
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.client.ProcessRequest(s.ctx, "local", charge(1)))
	}
	s.True(tperr.IsErrRequestThrottled(s.client.ProcessRequest(s.ctx, "local", charge(1))))
	s.nextCycle(1)
	s.Nil(s.client.ProcessRequest(s.ctx, "local", charge(1)))
}

func (s *testClientSuite) TestDuplicateGroups() {
	s.Require().NoError(s.client.EnableGlobalGroup(s.globalGroup("g1", 10, true), nil))
	err := s.client.EnableGlobalGroup(s.globalGroup("g1", 10, false), nil)
	s.True(tperr.ErrGroupAlreadyExists.Equal(err))
	err = s.client.EnableGlobalGroup(s.globalGroup("g2", 10, true), nil)
	s.True(tperr.ErrDuplicateDefaultGroup.Equal(err))
	s.Nil(s.client.EnableGlobalGroup(s.globalGroup("g2", 10, false), nil))
}

func (s *testClientSuite) TestInvalidGroups() {
	err := s.client.EnableGlobalGroup(&config.GroupConfig{Name: "g1", TargetResource: "db/coll"}, nil)
	s.True(tperr.ErrInvalidGroupConfig.Equal(err))
	err = s.client.EnableGlobalGroup(s.globalGroup("g1", 10, false),
		&config.GlobalControlConfig{RenewInterval: time.Second, ExpireInterval: 2 * time.Second})
	s.True(tperr.ErrInvalidControlConfig.Equal(err))

	local := NewClient(nil)
	defer local.Close()
	err = local.EnableGlobalGroup(s.globalGroup("g1", 10, false), nil)
	s.True(tperr.ErrInvalidGroupConfig.Equal(err))
}

func (s *testClientSuite) TestContinueOnInitError() {
	s.store = memstore.New(memstore.WithClock(s.clock),
		memstore.WithContainer(&kv.ContainerProperties{ID: "tc", PartitionKeyPath: "/id"}))
	s.client = NewClient(s.store, WithClock(s.clock))
	cfg := s.globalGroup("g1", 1, true)
	cfg.ContinueOnInitError = true
	s.Require().NoError(s.client.EnableGlobalGroup(cfg, nil))
	s.Require().NoError(s.client.Init(s.ctx))
	for i := 0; i < 5; i++ {
		s.Nil(s.client.ProcessRequest(s.ctx, "g1", charge(1)))
	}
	_, ok := s.client.AllocatedThroughput("g1")
	s.False(ok)
}

func (s *testClientSuite) TestInitError() {
	s.store = memstore.New(memstore.WithClock(s.clock),
		memstore.WithContainer(&kv.ContainerProperties{ID: "tc", PartitionKeyPath: "/id"}))
	s.client = NewClient(s.store, WithClock(s.clock))
	s.Require().NoError(s.client.EnableGlobalGroup(s.globalGroup("g1", 1, false), nil))
	err := s.client.Init(s.ctx)
	s.True(tperr.ErrInvalidControlContainer.Equal(err))
	// Requests are not controlled by a client that failed to initialize.
	s.Nil(s.client.ProcessRequest(s.ctx, "g1", charge(1)))
	s.NotNil(s.client.Init(s.ctx))
}

func (s *testClientSuite) TestTwoClientsShareGroup() {
	other := NewClient(s.store, WithClock(s.clock), WithClientID("c2"))
	defer other.Close()
	s.Require().NoError(s.client.EnableGlobalGroup(s.globalGroup("g1", 100, true), nil))
	s.Require().NoError(other.EnableGlobalGroup(s.globalGroup("g1", 100, true), nil))
	s.Require().NoError(s.client.Init(s.ctx))
	s.Require().NoError(other.Init(s.ctx))

	allocated, _ := other.AllocatedThroughput("g1")
	s.InDelta(50, allocated, 1e-9)
	s.Equal(2, s.store.Len(kv.PartitionKey("db/coll/g1", kv.RoleClient)))
}

func (s *testClientSuite) TestClose() {
	s.Require().NoError(s.client.EnableGlobalGroup(s.globalGroup("g1", 1, true), nil))
	s.Require().NoError(s.client.Init(s.ctx))
	s.client.Close()
	s.client.Close()
	for i := 0; i < 3; i++ {
		s.Nil(s.client.ProcessRequest(s.ctx, "g1", charge(1)))
	}
	s.NotNil(s.client.EnableGlobalGroup(s.globalGroup("g2", 1, false), nil))
}

type recordingTracer struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracer) TraceEvent(_ context.Context, category trace.Category, name string, _ ...zap.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, category.String()+"/"+name)
}

func (s *testClientSuite) TestTraceEvents() {
	r := &recordingTracer{}
	trace.SetGlobalTracer(r)
	defer trace.SetGlobalTracer(nil)

	s.Require().NoError(s.client.EnableGlobalGroup(s.globalGroup("g1", 1, true), nil))
	s.Require().NoError(s.client.Init(s.ctx))
	s.Nil(s.client.ProcessRequest(s.ctx, "", charge(1)))
	s.NotNil(s.client.ProcessRequest(s.ctx, "", charge(1)))

	r.mu.Lock()
	defer r.mu.Unlock()
	s.Contains(r.events, "config_item/config_item.created")
	s.Contains(r.events, "admission/request.throttled")
}
