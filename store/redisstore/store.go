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

// Package redisstore implements kv.ItemStore on Redis. Every item is a hash holding the
// value and a version drawn from a per-container counter, writes are compare-and-set Lua
// scripts and TTLs are key expirations.
package redisstore

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/kv"
)

const (
	fieldValue   = "v"
	fieldVersion = "ver"
)

// KEYS: item, version counter, partition index. ARGV: value, ttl in ms, id.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local ver = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', ver)
if tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
redis.call('SADD', KEYS[3], ARGV[3])
return ver
`)

// Same keys and arguments as createScript, ARGV[4] is the expected version. Returns -1 if
// the item does not exist and 0 on version mismatch.
var replaceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if not cur then
	return -1
end
if ARGV[4] ~= '' and cur ~= ARGV[4] then
	return 0
end
local ver = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', ver)
if tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
	redis.call('PERSIST', KEYS[1])
end
redis.call('SADD', KEYS[3], ARGV[3])
return ver
`)

// KEYS[1] is the partition index, KEYS[i+1] the item key of ARGV[i]. Ids whose item is
// gone are removed from the index, an item recreated since the caller looked stays.
var pruneScript = redis.NewScript(`
local removed = 0
for i = 1, #ARGV do
	if redis.call('EXISTS', KEYS[i + 1]) == 0 then
		removed = removed + redis.call('SREM', KEYS[1], ARGV[i])
	end
end
return removed
`)

// Store is a kv.ItemStore on Redis. All keys of a container share one hash tag so the
// scripts also run on Redis Cluster.
type Store struct {
	cli       redis.UniversalClient
	container string
	base      string
	owned     bool
}

var _ kv.ItemStore = (*Store)(nil)

// New creates a Store of container over cli, keys are put under prefix.
func New(cli redis.UniversalClient, prefix, container string) *Store {
	return &Store{
		cli:       cli,
		container: container,
		base:      prefix + "{" + container + "}",
	}
}

// Open connects to the Redis servers of cfg and makes sure the control container exists.
func Open(ctx context.Context, cfg config.Store) (*Store, error) {
	tlsConfig, err := config.GetGlobalConfig().Security.ToTLSConfig()
	if err != nil {
		return nil, err
	}
	cli := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Endpoints,
		DialTimeout: 5 * time.Second,
		TLSConfig:   tlsConfig,
	})
	s := New(cli, cfg.Prefix, cfg.Container)
	s.owned = true
	if err := s.EnsureContainer(ctx, kv.PartitionKeyPath); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the client created by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.cli.Close()
}

func (s *Store) metaKey() string {
	return s.base + ":meta"
}

func (s *Store) versionKey() string {
	return s.base + ":ver"
}

func (s *Store) indexKey(partitionKey string) string {
	return s.base + ":idx:" + url.QueryEscape(partitionKey)
}

func (s *Store) itemKey(id, partitionKey string) string {
	return s.base + ":item:" + url.QueryEscape(partitionKey) + ":" + url.QueryEscape(id)
}

// EnsureContainer creates the container with the given partition key path if it does not
// exist.
func (s *Store) EnsureContainer(ctx context.Context, partitionKeyPath string) error {
	_, err := s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, s.metaKey(), "id", s.container)
		pipe.HSetNX(ctx, s.metaKey(), "partitionKeyPath", partitionKeyPath)
		return nil
	})
	return errors.WithStack(err)
}

// ReadContainer implements kv.ItemStore.
func (s *Store) ReadContainer(ctx context.Context) (*kv.ContainerProperties, error) {
	m, err := s.cli.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(m) == 0 {
		return nil, tperr.ErrContainerNotFound.GenWithStackByArgs(s.container)
	}
	return &kv.ContainerProperties{ID: m["id"], PartitionKeyPath: m["partitionKeyPath"]}, nil
}

// ReadItem implements kv.ItemStore.
func (s *Store) ReadItem(ctx context.Context, id, partitionKey string) (*kv.Item, kv.Result, error) {
	m, err := s.cli.HGetAll(ctx, s.itemKey(id, partitionKey)).Result()
	if err != nil {
		return nil, kv.ResultSuccess, errors.WithStack(err)
	}
	if len(m) == 0 {
		return nil, kv.ResultNotFound, nil
	}
	return toItem(id, partitionKey, m), kv.ResultSuccess, nil
}

// CreateItem implements kv.ItemStore.
func (s *Store) CreateItem(ctx context.Context, item *kv.Item) (*kv.Item, kv.Result, error) {
	ver, err := createScript.Run(ctx, s.cli, s.scriptKeys(item), s.scriptArgs(item)...).Int64()
	if err != nil {
		return nil, kv.ResultSuccess, errors.WithStack(err)
	}
	if ver == 0 {
		return nil, kv.ResultVersionConflict, nil
	}
	return written(item, ver), kv.ResultSuccess, nil
}

// ReplaceItem implements kv.ItemStore.
func (s *Store) ReplaceItem(ctx context.Context, item *kv.Item, ifMatch string) (*kv.Item, kv.Result, error) {
	args := append(s.scriptArgs(item), ifMatch)
	ver, err := replaceScript.Run(ctx, s.cli, s.scriptKeys(item), args...).Int64()
	if err != nil {
		return nil, kv.ResultSuccess, errors.WithStack(err)
	}
	switch ver {
	case -1:
		return nil, kv.ResultNotFound, nil
	case 0:
		return nil, kv.ResultVersionConflict, nil
	}
	return written(item, ver), kv.ResultSuccess, nil
}

// QueryItems implements kv.ItemStore. Ids of expired items are removed from the partition
// index on the way.
func (s *Store) QueryItems(ctx context.Context, partitionKey string) ([]*kv.Item, error) {
	index := s.indexKey(partitionKey)
	ids, err := s.cli.SMembers(ctx, index).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	_, err = s.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.itemKey(id, partitionKey))
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	items := make([]*kv.Item, 0, len(ids))
	var stale []string
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		items = append(items, toItem(ids[i], partitionKey, m))
	}
	if len(stale) > 0 {
		if err := s.pruneIndex(ctx, partitionKey, stale); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// pruneIndex removes the ids of partitionKey whose items no longer exist.
func (s *Store) pruneIndex(ctx context.Context, partitionKey string, ids []string) error {
	keys, args := s.pruneKeys(partitionKey, ids)
	if err := pruneScript.Run(ctx, s.cli, keys, args...).Err(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (s *Store) pruneKeys(partitionKey string, ids []string) ([]string, []interface{}) {
	keys := make([]string, 0, len(ids)+1)
	args := make([]interface{}, 0, len(ids))
	keys = append(keys, s.indexKey(partitionKey))
	for _, id := range ids {
		keys = append(keys, s.itemKey(id, partitionKey))
		args = append(args, id)
	}
	return keys, args
}

func (s *Store) scriptKeys(item *kv.Item) []string {
	return []string{s.itemKey(item.ID, item.PartitionKey), s.versionKey(), s.indexKey(item.PartitionKey)}
}

func (s *Store) scriptArgs(item *kv.Item) []interface{} {
	return []interface{}{item.Value, item.TTL.Milliseconds(), item.ID}
}

func toItem(id, partitionKey string, m map[string]string) *kv.Item {
	return &kv.Item{
		ID:           id,
		PartitionKey: partitionKey,
		Value:        []byte(m[fieldValue]),
		Version:      m[fieldVersion],
	}
}

func written(item *kv.Item, ver int64) *kv.Item {
	c := item.Clone()
	c.Version = strconv.FormatInt(ver, 10)
	return c
}
