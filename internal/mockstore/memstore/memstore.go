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

// Package memstore implements kv.ItemStore in memory. It is used by tests and by
// simulations that run every client in one process.
package memstore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/jonboulle/clockwork"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/kv"
)

// Op identifies a store operation for hooks.
type Op int

// Store operations.
const (
	OpReadContainer Op = iota
	OpRead
	OpCreate
	OpReplace
	OpQuery
)

func (o Op) String() string {
	switch o {
	case OpReadContainer:
		return "read_container"
	case OpRead:
		return "read"
	case OpCreate:
		return "create"
	case OpReplace:
		return "replace"
	case OpQuery:
		return "query"
	}
	return "unknown"
}

// Hook is called before an operation is applied, without the store lock held. A non-nil
// error fails the operation.
type Hook func(op Op, id, partitionKey string) error

const btreeDegree = 16

type entry struct {
	partitionKey string
	id           string
	value        []byte
	version      uint64
	ttl          time.Duration
	expireAt     time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && !now.Before(e.expireAt)
}

func (e *entry) toItem() *kv.Item {
	return &kv.Item{
		ID:           e.id,
		PartitionKey: e.partitionKey,
		Value:        append([]byte(nil), e.value...),
		Version:      strconv.FormatUint(e.version, 10),
		TTL:          e.ttl,
	}
}

func lessEntry(a, b *entry) bool {
	if a.partitionKey != b.partitionKey {
		return a.partitionKey < b.partitionKey
	}
	return a.id < b.id
}

// MemStore is an in-memory kv.ItemStore. Items are kept ordered by (partition key, id)
// so that partition scans are range scans.
type MemStore struct {
	mu        sync.Mutex
	items     *btree.BTreeG[*entry]
	version   uint64
	container *kv.ContainerProperties
	clock     clockwork.Clock
	hook      Hook
}

var _ kv.ItemStore = (*MemStore)(nil)

// Option configures a MemStore.
type Option func(*MemStore)

// WithClock sets the clock used to expire items.
func WithClock(clock clockwork.Clock) Option {
	return func(s *MemStore) {
		s.clock = clock
	}
}

// WithContainer sets the properties returned by ReadContainer. A nil container makes
// ReadContainer fail as if the container did not exist.
func WithContainer(container *kv.ContainerProperties) Option {
	return func(s *MemStore) {
		s.container = container
	}
}

// New creates a MemStore whose container is partitioned by kv.PartitionKeyPath.
func New(opts ...Option) *MemStore {
	s := &MemStore{
		items:     btree.NewG(btreeDegree, lessEntry),
		container: &kv.ContainerProperties{ID: "throughput-control", PartitionKeyPath: kv.PartitionKeyPath},
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHook installs a hook called before every operation, nil removes it.
func (s *MemStore) SetHook(hook Hook) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

func (s *MemStore) runHook(op Op, id, partitionKey string) error {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(op, id, partitionKey)
}

// getLocked returns the live entry, dropping it if it has expired.
func (s *MemStore) getLocked(id, partitionKey string) *entry {
	e, ok := s.items.Get(&entry{partitionKey: partitionKey, id: id})
	if !ok {
		return nil
	}
	if e.expired(s.clock.Now()) {
		s.items.Delete(e)
		return nil
	}
	return e
}

func (s *MemStore) putLocked(item *kv.Item) *entry {
	s.version++
	e := &entry{
		partitionKey: item.PartitionKey,
		id:           item.ID,
		value:        append([]byte(nil), item.Value...),
		version:      s.version,
		ttl:          item.TTL,
	}
	if e.ttl > 0 {
		e.expireAt = s.clock.Now().Add(e.ttl)
	}
	s.items.ReplaceOrInsert(e)
	return e
}

// ReadContainer implements kv.ItemStore.
func (s *MemStore) ReadContainer(ctx context.Context) (*kv.ContainerProperties, error) {
	if err := s.runHook(OpReadContainer, "", ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.container == nil {
		return nil, tperr.ErrContainerNotFound.GenWithStackByArgs("memstore")
	}
	c := *s.container
	return &c, nil
}

// ReadItem implements kv.ItemStore.
func (s *MemStore) ReadItem(ctx context.Context, id, partitionKey string) (*kv.Item, kv.Result, error) {
	if err := s.runHook(OpRead, id, partitionKey); err != nil {
		return nil, kv.ResultSuccess, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(id, partitionKey)
	if e == nil {
		return nil, kv.ResultNotFound, nil
	}
	return e.toItem(), kv.ResultSuccess, nil
}

// CreateItem implements kv.ItemStore.
func (s *MemStore) CreateItem(ctx context.Context, item *kv.Item) (*kv.Item, kv.Result, error) {
	if err := s.runHook(OpCreate, item.ID, item.PartitionKey); err != nil {
		return nil, kv.ResultSuccess, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getLocked(item.ID, item.PartitionKey) != nil {
		return nil, kv.ResultVersionConflict, nil
	}
	return s.putLocked(item).toItem(), kv.ResultSuccess, nil
}

// ReplaceItem implements kv.ItemStore.
func (s *MemStore) ReplaceItem(ctx context.Context, item *kv.Item, ifMatch string) (*kv.Item, kv.Result, error) {
	if err := s.runHook(OpReplace, item.ID, item.PartitionKey); err != nil {
		return nil, kv.ResultSuccess, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(item.ID, item.PartitionKey)
	if e == nil {
		return nil, kv.ResultNotFound, nil
	}
	if ifMatch != "" && ifMatch != strconv.FormatUint(e.version, 10) {
		return nil, kv.ResultVersionConflict, nil
	}
	return s.putLocked(item).toItem(), kv.ResultSuccess, nil
}

// QueryItems implements kv.ItemStore.
func (s *MemStore) QueryItems(ctx context.Context, partitionKey string) ([]*kv.Item, error) {
	if err := s.runHook(OpQuery, "", partitionKey); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var (
		items   []*kv.Item
		expired []*entry
	)
	s.items.AscendGreaterOrEqual(&entry{partitionKey: partitionKey}, func(e *entry) bool {
		if e.partitionKey != partitionKey {
			return false
		}
		if e.expired(now) {
			expired = append(expired, e)
			return true
		}
		items = append(items, e.toItem())
		return true
	})
	for _, e := range expired {
		s.items.Delete(e)
	}
	return items, nil
}

// Delete removes an item, it returns false if the item does not exist.
func (s *MemStore) Delete(id, partitionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items.Delete(&entry{partitionKey: partitionKey, id: id})
	return ok
}

// Len returns the number of live items whose partition key has the given prefix.
func (s *MemStore) Len(partitionKeyPrefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	n := 0
	s.items.Ascend(func(e *entry) bool {
		if strings.HasPrefix(e.partitionKey, partitionKeyPrefix) && !e.expired(now) {
			n++
		}
		return true
	})
	return n
}
