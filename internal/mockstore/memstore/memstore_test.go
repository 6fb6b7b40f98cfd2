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

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/kv"
)

func TestMemStore(t *testing.T) {
	suite.Run(t, new(testMemStoreSuite))
}

type testMemStoreSuite struct {
	suite.Suite
	clock clockwork.FakeClock
	store *MemStore
	ctx   context.Context
}

func (s *testMemStoreSuite) SetupTest() {
	s.clock = clockwork.NewFakeClock()
	s.store = New(WithClock(s.clock))
	s.ctx = context.Background()
}

func (s *testMemStoreSuite) TestReadContainer() {
	c, err := s.store.ReadContainer(s.ctx)
	s.Nil(err)
	s.Equal(kv.PartitionKeyPath, c.PartitionKeyPath)

	missing := New(WithContainer(nil))
	_, err = missing.ReadContainer(s.ctx)
	s.True(tperr.ErrContainerNotFound.Equal(err))
}

func (s *testMemStoreSuite) TestCreateReadReplace() {
	_, res, err := s.store.ReadItem(s.ctx, "a", "p")
	s.Nil(err)
	s.Equal(kv.ResultNotFound, res)

	created, res, err := s.store.CreateItem(s.ctx, &kv.Item{ID: "a", PartitionKey: "p", Value: []byte("v1")})
	s.Nil(err)
	s.Equal(kv.ResultSuccess, res)
	s.NotEmpty(created.Version)

	_, res, err = s.store.CreateItem(s.ctx, &kv.Item{ID: "a", PartitionKey: "p", Value: []byte("v2")})
	s.Nil(err)
	s.Equal(kv.ResultVersionConflict, res)

	replaced, res, err := s.store.ReplaceItem(s.ctx, &kv.Item{ID: "a", PartitionKey: "p", Value: []byte("v3")}, created.Version)
	s.Nil(err)
	s.Equal(kv.ResultSuccess, res)
	s.NotEqual(created.Version, replaced.Version)

	// stale version
	_, res, err = s.store.ReplaceItem(s.ctx, &kv.Item{ID: "a", PartitionKey: "p", Value: []byte("v4")}, created.Version)
	s.Nil(err)
	s.Equal(kv.ResultVersionConflict, res)

	read, res, err := s.store.ReadItem(s.ctx, "a", "p")
	s.Nil(err)
	s.Equal(kv.ResultSuccess, res)
	s.Equal([]byte("v3"), read.Value)
	s.Equal(replaced.Version, read.Version)

	_, res, err = s.store.ReplaceItem(s.ctx, &kv.Item{ID: "b", PartitionKey: "p"}, "")
	s.Nil(err)
	s.Equal(kv.ResultNotFound, res)
}

func (s *testMemStoreSuite) TestTTL() {
	_, _, err := s.store.CreateItem(s.ctx, &kv.Item{ID: "a", PartitionKey: "p", TTL: 10 * time.Second})
	s.Nil(err)
	_, _, err = s.store.CreateItem(s.ctx, &kv.Item{ID: "b", PartitionKey: "p"})
	s.Nil(err)

	s.clock.Advance(9 * time.Second)
	items, err := s.store.QueryItems(s.ctx, "p")
	s.Nil(err)
	s.Len(items, 2)

	s.clock.Advance(time.Second)
	items, err = s.store.QueryItems(s.ctx, "p")
	s.Nil(err)
	s.Len(items, 1)
	s.Equal("b", items[0].ID)

	_, res, err := s.store.ReplaceItem(s.ctx, &kv.Item{ID: "a", PartitionKey: "p"}, "")
	s.Nil(err)
	s.Equal(kv.ResultNotFound, res)

	// an expired item can be created again
	_, res, err = s.store.CreateItem(s.ctx, &kv.Item{ID: "a", PartitionKey: "p", TTL: 10 * time.Second})
	s.Nil(err)
	s.Equal(kv.ResultSuccess, res)
}

func (s *testMemStoreSuite) TestQueryIsPartitionScoped() {
	for _, pk := range []string{"g.client", "g.config", "g.client2", "f.client"} {
		_, _, err := s.store.CreateItem(s.ctx, &kv.Item{ID: "x", PartitionKey: pk})
		s.Nil(err)
	}
	_, _, err := s.store.CreateItem(s.ctx, &kv.Item{ID: "y", PartitionKey: "g.client"})
	s.Nil(err)

	items, err := s.store.QueryItems(s.ctx, "g.client")
	s.Nil(err)
	s.Len(items, 2)
	s.Equal("x", items[0].ID)
	s.Equal("y", items[1].ID)
	s.Equal(5, s.store.Len(""))
	s.Equal(4, s.store.Len("g."))
}

func (s *testMemStoreSuite) TestHookAndDelete() {
	injected := errors.New("injected")
	s.store.SetHook(func(op Op, id, partitionKey string) error {
		if op == OpQuery {
			return injected
		}
		return nil
	})
	_, err := s.store.QueryItems(s.ctx, "p")
	s.Equal(injected, err)
	_, _, err = s.store.CreateItem(s.ctx, &kv.Item{ID: "a", PartitionKey: "p"})
	s.Nil(err)
	s.store.SetHook(nil)

	s.True(s.store.Delete("a", "p"))
	s.False(s.store.Delete("a", "p"))
	s.Equal("replace", OpReplace.String())
}
