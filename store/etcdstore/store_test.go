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

package etcdstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/kv"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestKeyLayout(t *testing.T) {
	s := New(nil, "tc")
	assert.Equal(t, "/tc/meta", s.metaKey())
	assert.Equal(t, "/tc/items/db%2Fcoll%2Fg1.client/", s.partitionPrefix("db/coll/g1.client"))
	assert.Equal(t, "/tc/items/db%2Fcoll%2Fg1.client/a%2Fb", s.itemKey("a/b", "db/coll/g1.client"))
	// A partition is never a prefix of another one.
	assert.False(t, strings.HasPrefix(s.partitionPrefix("g10.client"), s.partitionPrefix("g1")))
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, int64(1), ttlSeconds(time.Millisecond))
	assert.Equal(t, int64(30), ttlSeconds(30*time.Second))
	assert.Equal(t, int64(31), ttlSeconds(30*time.Second+time.Millisecond))
}

func TestAddrsToKey(t *testing.T) {
	addrs := []string{"b:2379", "a:2379"}
	assert.Equal(t, "a:2379-b:2379", addrsToKey(addrs))
	assert.Equal(t, []string{"b:2379", "a:2379"}, addrs)
}

func TestSharedEtcdClientRefs(t *testing.T) {
	addrs := []string{"10.0.0.2:2379", "10.0.0.1:2379"}
	key := addrsToKey(addrs)
	cli := clientv3.NewCtxClient(context.Background())
	etcdMutex.Lock()
	etcdClients[key] = &sharedEtcdClient{cli: cli}
	etcdMutex.Unlock()

	for i := 0; i < 2; i++ {
		got, err := getSharedEtcdClient(addrs)
		require.NoError(t, err)
		assert.Same(t, cli, got)
	}
	s1 := &Store{endpoints: addrs}
	s2 := &Store{endpoints: []string{"10.0.0.1:2379", "10.0.0.2:2379"}}

	// Closing one store twice releases a single ref.
	assert.NoError(t, s1.Close())
	assert.NoError(t, s1.Close())
	assert.NoError(t, cli.Ctx().Err())

	s2.Close()
	assert.Error(t, cli.Ctx().Err())
	etcdMutex.Lock()
	_, ok := etcdClients[key]
	etcdMutex.Unlock()
	assert.False(t, ok)

	// A store over a caller-owned client never closes it.
	assert.NoError(t, New(nil, "tc").Close())
}

// TestEtcdStore runs against the cluster in ETCD_ENDPOINTS.
func TestEtcdStore(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS is not set")
	}
	suite.Run(t, &testEtcdStoreSuite{endpoints: strings.Split(endpoints, ",")})
}

type testEtcdStoreSuite struct {
	suite.Suite
	endpoints []string
	store     *Store
	ctx       context.Context
}

func (s *testEtcdStoreSuite) SetupTest() {
	s.ctx = context.Background()
	store, err := Open(s.ctx, config.Store{
		Backend:   "etcd",
		Endpoints: s.endpoints,
		Container: "tc",
		Prefix:    "/test-" + uuid.New().String(),
	})
	s.Require().NoError(err)
	s.store = store
}

func (s *testEtcdStoreSuite) TearDownTest() {
	s.store.Close()
}

func (s *testEtcdStoreSuite) TestContainer() {
	props, err := s.store.ReadContainer(s.ctx)
	s.Nil(err)
	s.Equal(kv.PartitionKeyPath, props.PartitionKeyPath)

	// An existing container is kept.
	s.Nil(s.store.EnsureContainer(s.ctx, "/id"))
	props, err = s.store.ReadContainer(s.ctx)
	s.Nil(err)
	s.Equal(kv.PartitionKeyPath, props.PartitionKeyPath)

	missing := New(s.store.cli, "missing")
	_, err = missing.ReadContainer(s.ctx)
	s.True(tperr.ErrContainerNotFound.Equal(err))
}

func (s *testEtcdStoreSuite) TestCreateReplace() {
	item := &kv.Item{ID: "c1", PartitionKey: "g1.client", Value: []byte(`{"loadFactor":1}`), TTL: 30 * time.Second}
	created, res, err := s.store.CreateItem(s.ctx, item)
	s.Nil(err)
	s.Equal(kv.ResultSuccess, res)

	_, res, err = s.store.CreateItem(s.ctx, item)
	s.Nil(err)
	s.Equal(kv.ResultVersionConflict, res)

	read, res, err := s.store.ReadItem(s.ctx, "c1", "g1.client")
	s.Nil(err)
	s.Equal(kv.ResultSuccess, res)
	s.Equal(created.Version, read.Version)
	s.Equal(item.Value, read.Value)

	item.Value = []byte(`{"loadFactor":0.5}`)
	replaced, res, err := s.store.ReplaceItem(s.ctx, item, created.Version)
	s.Nil(err)
	s.Equal(kv.ResultSuccess, res)
	s.NotEqual(created.Version, replaced.Version)

	_, res, err = s.store.ReplaceItem(s.ctx, item, created.Version)
	s.Nil(err)
	s.Equal(kv.ResultVersionConflict, res)

	missing := &kv.Item{ID: "c2", PartitionKey: "g1.client", Value: []byte("{}")}
	_, res, err = s.store.ReplaceItem(s.ctx, missing, "")
	s.Nil(err)
	s.Equal(kv.ResultNotFound, res)
}

func (s *testEtcdStoreSuite) TestQueryAndExpire() {
	for _, id := range []string{"c1", "c2"} {
		_, res, err := s.store.CreateItem(s.ctx, &kv.Item{ID: id, PartitionKey: "g1.client", Value: []byte("{}"), TTL: time.Second})
		s.Nil(err)
		s.Equal(kv.ResultSuccess, res)
	}
	_, _, err := s.store.CreateItem(s.ctx, &kv.Item{ID: "c3", PartitionKey: "g10.client", Value: []byte("{}")})
	s.Nil(err)

	items, err := s.store.QueryItems(s.ctx, "g1.client")
	s.Nil(err)
	s.Len(items, 2)

	s.Eventually(func() bool {
		items, err := s.store.QueryItems(s.ctx, "g1.client")
		return err == nil && len(items) == 0
	}, 10*time.Second, 200*time.Millisecond)
	items, err = s.store.QueryItems(s.ctx, "g10.client")
	s.Nil(err)
	s.Len(items, 1)
}
