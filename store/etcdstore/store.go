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

// Package etcdstore implements kv.ItemStore on etcd. Item versions are mod revisions and
// TTLs are leases, so etcd itself removes expired items.
package etcdstore

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/internal/logutil"
	"github.com/tikv/throughput-control/kv"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Store is a kv.ItemStore on etcd. Keys are laid out as
//
//	/<container>/meta
//	/<container>/items/<partition key>/<id>
type Store struct {
	cli       EtcdClient
	container string
	endpoints []string
	closeOnce sync.Once
}

var _ kv.ItemStore = (*Store)(nil)

// New creates a Store of container over cli.
func New(cli EtcdClient, container string) *Store {
	return &Store{cli: cli, container: container}
}

// Open connects to the etcd cluster of cfg and makes sure the control container exists.
func Open(ctx context.Context, cfg config.Store) (*Store, error) {
	cli, err := GetEtcdClient(cfg.Endpoints, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	s := New(cli, cfg.Container)
	s.endpoints = cfg.Endpoints
	if err := s.EnsureContainer(ctx, kv.PartitionKeyPath); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection opened by Open. A Store created by New does not own its
// client and Close leaves it open.
func (s *Store) Close() (err error) {
	if s.endpoints == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		err = closeSharedEtcdClient(s.endpoints)
	})
	return err
}

func (s *Store) metaKey() string {
	return "/" + s.container + "/meta"
}

func (s *Store) partitionPrefix(partitionKey string) string {
	return "/" + s.container + "/items/" + url.PathEscape(partitionKey) + "/"
}

func (s *Store) itemKey(id, partitionKey string) string {
	return s.partitionPrefix(partitionKey) + url.PathEscape(id)
}

// EnsureContainer creates the container with the given partition key path if it does not
// exist. An existing container is left as is.
func (s *Store) EnsureContainer(ctx context.Context, partitionKeyPath string) error {
	meta, err := json.Marshal(&kv.ContainerProperties{ID: s.container, PartitionKeyPath: partitionKeyPath})
	if err != nil {
		return errors.WithStack(err)
	}
	key := s.metaKey()
	_, err = s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(meta))).
		Commit()
	return errors.WithStack(err)
}

// ReadContainer implements kv.ItemStore.
func (s *Store) ReadContainer(ctx context.Context) (*kv.ContainerProperties, error) {
	resp, err := s.cli.Get(ctx, s.metaKey())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, tperr.ErrContainerNotFound.GenWithStackByArgs(s.container)
	}
	var props kv.ContainerProperties
	if err := json.Unmarshal(resp.Kvs[0].Value, &props); err != nil {
		return nil, errors.Wrapf(err, "decode container %s", s.container)
	}
	return &props, nil
}

// ReadItem implements kv.ItemStore.
func (s *Store) ReadItem(ctx context.Context, id, partitionKey string) (*kv.Item, kv.Result, error) {
	resp, err := s.cli.Get(ctx, s.itemKey(id, partitionKey))
	if err != nil {
		return nil, kv.ResultSuccess, errors.WithStack(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, kv.ResultNotFound, nil
	}
	return toItem(id, partitionKey, resp.Kvs[0]), kv.ResultSuccess, nil
}

// CreateItem implements kv.ItemStore.
func (s *Store) CreateItem(ctx context.Context, item *kv.Item) (*kv.Item, kv.Result, error) {
	key := s.itemKey(item.ID, item.PartitionKey)
	lease, opts, err := s.grant(ctx, item.TTL)
	if err != nil {
		return nil, kv.ResultSuccess, err
	}
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(item.Value), opts...)).
		Commit()
	if err != nil {
		s.revoke(lease)
		return nil, kv.ResultSuccess, errors.WithStack(err)
	}
	if !resp.Succeeded {
		s.revoke(lease)
		return nil, kv.ResultVersionConflict, nil
	}
	return written(item, resp.Header.Revision), kv.ResultSuccess, nil
}

// ReplaceItem implements kv.ItemStore.
func (s *Store) ReplaceItem(ctx context.Context, item *kv.Item, ifMatch string) (*kv.Item, kv.Result, error) {
	key := s.itemKey(item.ID, item.PartitionKey)
	cmp := clientv3.Compare(clientv3.CreateRevision(key), ">", 0)
	if ifMatch != "" {
		rev, err := strconv.ParseInt(ifMatch, 10, 64)
		if err != nil {
			return nil, kv.ResultVersionConflict, nil
		}
		cmp = clientv3.Compare(clientv3.ModRevision(key), "=", rev)
	}
	lease, opts, err := s.grant(ctx, item.TTL)
	if err != nil {
		return nil, kv.ResultSuccess, err
	}
	resp, err := s.cli.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(key, string(item.Value), opts...)).
		Else(clientv3.OpGet(key, clientv3.WithKeysOnly())).
		Commit()
	if err != nil {
		s.revoke(lease)
		return nil, kv.ResultSuccess, errors.WithStack(err)
	}
	if !resp.Succeeded {
		s.revoke(lease)
		if len(resp.Responses) == 0 || len(resp.Responses[0].GetResponseRange().GetKvs()) == 0 {
			return nil, kv.ResultNotFound, nil
		}
		return nil, kv.ResultVersionConflict, nil
	}
	return written(item, resp.Header.Revision), kv.ResultSuccess, nil
}

// QueryItems implements kv.ItemStore.
func (s *Store) QueryItems(ctx context.Context, partitionKey string) ([]*kv.Item, error) {
	prefix := s.partitionPrefix(partitionKey)
	resp, err := s.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	items := make([]*kv.Item, 0, len(resp.Kvs))
	for _, pair := range resp.Kvs {
		id, err := url.PathUnescape(string(pair.Key[len(prefix):]))
		if err != nil {
			logutil.BgLogger().Warn("skip etcd key with a malformed id", zap.ByteString("key", pair.Key))
			continue
		}
		items = append(items, toItem(id, partitionKey, pair))
	}
	return items, nil
}

// grant creates the lease that carries the TTL of an item.
func (s *Store) grant(ctx context.Context, ttl time.Duration) (clientv3.LeaseID, []clientv3.OpOption, error) {
	if ttl <= 0 {
		return clientv3.NoLease, nil, nil
	}
	resp, err := s.cli.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return clientv3.NoLease, nil, errors.WithStack(err)
	}
	return resp.ID, []clientv3.OpOption{clientv3.WithLease(resp.ID)}, nil
}

// revoke drops a lease that was not attached to any key. It expires by itself if the
// revocation fails.
func (s *Store) revoke(lease clientv3.LeaseID) {
	if lease == clientv3.NoLease {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.cli.Revoke(ctx, lease); err != nil {
		logutil.BgLogger().Debug("revoke unused lease failed", zap.Int64("lease", int64(lease)), zap.Error(err))
	}
}

// ttlSeconds rounds a TTL up to whole seconds, the granularity of etcd leases.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func toItem(id, partitionKey string, pair *mvccpb.KeyValue) *kv.Item {
	return &kv.Item{
		ID:           id,
		PartitionKey: partitionKey,
		Value:        append([]byte(nil), pair.Value...),
		Version:      strconv.FormatInt(pair.ModRevision, 10),
	}
}

func written(item *kv.Item, revision int64) *kv.Item {
	c := item.Clone()
	c.Version = strconv.FormatInt(revision, 10)
	return c
}
