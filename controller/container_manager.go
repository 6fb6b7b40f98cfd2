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
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tikv/throughput-control/config"
	tperr "github.com/tikv/throughput-control/error"
	"github.com/tikv/throughput-control/internal/logutil"
	"github.com/tikv/throughput-control/kv"
	"github.com/tikv/throughput-control/metrics"
	"github.com/tikv/throughput-control/trace"
	"github.com/tikv/throughput-control/util"
	"go.uber.org/zap"
)

// ContainerManager owns the coordination records of one client in one global group. It is
// the only path through which a controller reads or writes the shared store.
//
// ContainerManager is not safe for concurrent use, the owning controller serializes calls.
type ContainerManager struct {
	store       kv.ItemStore
	groupID     string
	clientID    string
	ttl         time.Duration
	maxAttempts int
	clock       clockwork.Clock

	initializeTime time.Time
	// clientItem is the last copy of the own client item written to the store.
	clientItem *ClientItem
}

// NewContainerManager creates a ContainerManager for the client clientID of group. Client
// items are written with a TTL of the expire interval.
func NewContainerManager(store kv.ItemStore, group *config.GroupConfig, clientID string,
	expireInterval time.Duration, clock clockwork.Clock) *ContainerManager {
	maxAttempts := config.GetGlobalConfig().ThroughputControl.ConfigItemMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &ContainerManager{
		store:          store,
		groupID:        group.ID(),
		clientID:       clientID,
		ttl:            expireInterval,
		maxAttempts:    maxAttempts,
		clock:          clock,
		initializeTime: clock.Now(),
	}
}

// ClientItem returns the last client item written by the manager, nil before the first write.
func (m *ContainerManager) ClientItem() *ClientItem {
	return m.clientItem
}

// ValidateControlContainer checks that the control container is partitioned by
// kv.PartitionKeyPath.
func (m *ContainerManager) ValidateControlContainer(ctx context.Context) error {
	start := time.Now()
	props, err := m.store.ReadContainer(ctx)
	if err != nil {
		metrics.StoreOpHistogramError.WithLabelValues("read_container").Observe(time.Since(start).Seconds())
		return err
	}
	metrics.StoreOpHistogramReadContainer.Observe(time.Since(start).Seconds())
	if props.PartitionKeyPath != kv.PartitionKeyPath {
		return tperr.ErrInvalidControlContainer.GenWithStackByArgs(props.ID, kv.PartitionKeyPath, props.PartitionKeyPath)
	}
	return nil
}

// GetOrCreateConfigItem returns the stored config item of the group, creating it from
// expected if it does not exist yet. When another client wins the creation race the
// stored item is read again. A stored item that differs from expected is returned as is.
func (m *ContainerManager) GetOrCreateConfigItem(ctx context.Context, expected *ConfigItem) (*ConfigItem, error) {
	if span := opentracing.SpanFromContext(ctx); span != nil && span.Tracer() != nil {
		span1 := span.Tracer().StartSpan("ContainerManager.GetOrCreateConfigItem", opentracing.ChildOf(span.Context()))
		defer span1.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span1)
	}

	id := ConfigItemID(m.groupID)
	pk := kv.PartitionKey(m.groupID, kv.RoleConfig)
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		item, res, err := m.readItem(ctx, id, pk)
		if err != nil {
			return nil, err
		}
		if res == kv.ResultSuccess {
			trace.TraceEvent(ctx, trace.CategoryConfigItem, "config_item.adopted",
				zap.String("group", m.groupID),
				zap.Int("attempt", attempt))
			return m.adoptConfigItem(ctx, item, expected)
		}

		toCreate, err := encodeItem(id, m.groupID, kv.RoleConfig, expected, 0)
		if err != nil {
			return nil, err
		}
		item, res, err = m.createItem(ctx, toCreate)
		if err != nil {
			return nil, err
		}
		if res == kv.ResultSuccess {
			logutil.Logger(ctx).Info("created throughput control config item",
				zap.String("group", m.groupID),
				zap.String("client", m.clientID))
			trace.TraceEvent(ctx, trace.CategoryConfigItem, "config_item.created", zap.String("group", m.groupID))
			return decodeConfigItem(item)
		}
		metrics.ThroughputConfigConflictCounter.WithLabelValues(m.groupID).Inc()
		logutil.Logger(ctx).Debug("config item creation conflicts, read again",
			zap.String("group", m.groupID),
			zap.Int("attempt", attempt))
	}
	return nil, tperr.ErrConfigItemConflict.GenWithStackByArgs(id, m.groupID, m.maxAttempts)
}

func (m *ContainerManager) adoptConfigItem(ctx context.Context, item *kv.Item, expected *ConfigItem) (*ConfigItem, error) {
	stored, err := decodeConfigItem(item)
	if err != nil {
		return nil, err
	}
	if !stored.equals(expected) {
		logutil.Logger(ctx).Warn("throughput control config item differs from the local config, use the stored one",
			zap.String("group", m.groupID),
			zap.Any("stored", stored),
			zap.Any("expected", expected))
	}
	return stored, nil
}

// CreateGroupClientItem creates the client item of this client.
func (m *ContainerManager) CreateGroupClientItem(ctx context.Context, loadFactor, allocatedThroughput float64) (*ClientItem, error) {
	if span := opentracing.SpanFromContext(ctx); span != nil && span.Tracer() != nil {
		span1 := span.Tracer().StartSpan("ContainerManager.CreateGroupClientItem", opentracing.ChildOf(span.Context()))
		defer span1.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span1)
	}

	toCreate, err := m.encodeClientItem(loadFactor, allocatedThroughput)
	if err != nil {
		return nil, err
	}
	item, res, err := m.createItem(ctx, toCreate)
	if err != nil {
		return nil, err
	}
	if res == kv.ResultVersionConflict {
		// The item was left by an earlier attempt of this client, take it over.
		return m.replaceFresh(ctx, toCreate)
	}
	return m.setClientItem(item)
}

// ReplaceOrCreateGroupClientItem writes the latest load factor and allocation of this
// client. The item is recreated if it expired.
func (m *ContainerManager) ReplaceOrCreateGroupClientItem(ctx context.Context, loadFactor, allocatedThroughput float64) (*ClientItem, error) {
	if span := opentracing.SpanFromContext(ctx); span != nil && span.Tracer() != nil {
		span1 := span.Tracer().StartSpan("ContainerManager.ReplaceOrCreateGroupClientItem", opentracing.ChildOf(span.Context()))
		defer span1.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span1)
	}

	if val, e := util.EvalFailpoint("containerManagerReplaceError"); e == nil && val.(bool) {
		return nil, errors.New("injected replace error")
	}
	if m.clientItem == nil {
		return m.CreateGroupClientItem(ctx, loadFactor, allocatedThroughput)
	}

	toReplace, err := m.encodeClientItem(loadFactor, allocatedThroughput)
	if err != nil {
		return nil, err
	}
	item, res, err := m.replaceItem(ctx, toReplace, m.clientItem.Version)
	if err != nil {
		return nil, err
	}
	switch res {
	case kv.ResultSuccess:
		return m.setClientItem(item)
	case kv.ResultNotFound:
		logutil.Logger(ctx).Info("client item expired, create it again",
			zap.String("group", m.groupID),
			zap.String("client", m.clientID))
		return m.createOrReplace(ctx, toReplace)
	default:
		logutil.Logger(ctx).Warn("client item version conflicts, replace against the stored version",
			zap.String("group", m.groupID),
			zap.String("client", m.clientID),
			zap.String("version", m.clientItem.Version))
		return m.replaceFresh(ctx, toReplace)
	}
}

// createOrReplace creates the item, or replaces it once against the stored version if it
// was created meanwhile.
func (m *ContainerManager) createOrReplace(ctx context.Context, item *kv.Item) (*ClientItem, error) {
	created, res, err := m.createItem(ctx, item)
	if err != nil {
		return nil, err
	}
	if res == kv.ResultVersionConflict {
		return m.replaceFresh(ctx, item)
	}
	return m.setClientItem(created)
}

// replaceFresh reads the stored version of the item and replaces against it.
func (m *ContainerManager) replaceFresh(ctx context.Context, item *kv.Item) (*ClientItem, error) {
	stored, res, err := m.readItem(ctx, item.ID, item.PartitionKey)
	if err != nil {
		return nil, err
	}
	if res == kv.ResultNotFound {
		created, res, err := m.createItem(ctx, item)
		if err != nil {
			return nil, err
		}
		if res != kv.ResultSuccess {
			return nil, errors.Errorf("client item %s of group %s: create %s", item.ID, m.groupID, res)
		}
		return m.setClientItem(created)
	}
	replaced, res, err := m.replaceItem(ctx, item, stored.Version)
	if err != nil {
		return nil, err
	}
	if res != kv.ResultSuccess {
		return nil, errors.Errorf("client item %s of group %s: replace %s", item.ID, m.groupID, res)
	}
	return m.setClientItem(replaced)
}

// QueryLoadFactorsOfAllClients returns the sum of the load factors of all live clients of
// the group and their number. The stored item of this client, which carries the previous
// cycle's value, is skipped and selfLoadFactor is counted instead.
func (m *ContainerManager) QueryLoadFactorsOfAllClients(ctx context.Context, selfLoadFactor float64) (float64, int, error) {
	if span := opentracing.SpanFromContext(ctx); span != nil && span.Tracer() != nil {
		span1 := span.Tracer().StartSpan("ContainerManager.QueryLoadFactorsOfAllClients", opentracing.ChildOf(span.Context()))
		defer span1.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span1)
	}

	if val, e := util.EvalFailpoint("containerManagerQueryError"); e == nil && val.(bool) {
		return 0, 0, errors.New("injected query error")
	}
	start := time.Now()
	items, err := m.store.QueryItems(ctx, kv.PartitionKey(m.groupID, kv.RoleClient))
	if err != nil {
		metrics.StoreOpHistogramError.WithLabelValues("query").Observe(time.Since(start).Seconds())
		return 0, 0, err
	}
	metrics.StoreOpHistogramQuery.Observe(time.Since(start).Seconds())

	total, count := selfLoadFactor, 1
	for _, item := range items {
		if item.ID == m.clientID {
			continue
		}
		peer, err := decodeClientItem(item)
		if err != nil {
			logutil.Logger(ctx).Warn("skip undecodable client item",
				zap.String("group", m.groupID),
				zap.String("item", item.ID),
				zap.Error(err))
			continue
		}
		total += peer.LoadFactor
		count++
	}
	return total, count, nil
}

func (m *ContainerManager) encodeClientItem(loadFactor, allocatedThroughput float64) (*kv.Item, error) {
	return encodeItem(m.clientID, m.groupID, kv.RoleClient, &ClientItem{
		ID:                  m.clientID,
		GroupID:             m.groupID,
		LoadFactor:          loadFactor,
		AllocatedThroughput: allocatedThroughput,
		InitializeTime:      m.initializeTime,
		TTL:                 int64(m.ttl / time.Second),
	}, m.ttl)
}

func (m *ContainerManager) setClientItem(item *kv.Item) (*ClientItem, error) {
	c, err := decodeClientItem(item)
	if err != nil {
		return nil, err
	}
	m.clientItem = c
	return c, nil
}

func (m *ContainerManager) readItem(ctx context.Context, id, pk string) (*kv.Item, kv.Result, error) {
	start := time.Now()
	item, res, err := m.store.ReadItem(ctx, id, pk)
	observeStoreOp("read", metrics.StoreOpHistogramRead, metrics.StoreOpHistogramReadNotFound, start, res, err)
	return item, res, err
}

func (m *ContainerManager) createItem(ctx context.Context, item *kv.Item) (*kv.Item, kv.Result, error) {
	start := time.Now()
	created, res, err := m.store.CreateItem(ctx, item)
	observeStoreOp("create", metrics.StoreOpHistogramCreate, metrics.StoreOpHistogramCreateExists, start, res, err)
	return created, res, err
}

func (m *ContainerManager) replaceItem(ctx context.Context, item *kv.Item, ifMatch string) (*kv.Item, kv.Result, error) {
	start := time.Now()
	replaced, res, err := m.store.ReplaceItem(ctx, item, ifMatch)
	observeStoreOp("replace", metrics.StoreOpHistogramReplace, metrics.StoreOpHistogramReplaceMiss, start, res, err)
	return replaced, res, err
}

// observeStoreOp records a store call, any result other than success is counted as a miss.
func observeStoreOp(op string, ok, miss prometheus.Observer, start time.Time, res kv.Result, err error) {
	elapsed := time.Since(start).Seconds()
	switch {
	case err != nil:
		metrics.StoreOpHistogramError.WithLabelValues(op).Observe(elapsed)
	case res != kv.ResultSuccess:
		miss.Observe(elapsed)
	default:
		ok.Observe(elapsed)
	}
}
