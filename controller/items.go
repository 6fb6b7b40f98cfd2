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
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/tikv/throughput-control/kv"
)

// ConfigItem is the shared definition of a global group. The first client that initializes
// the group creates it, the others adopt the stored copy.
type ConfigItem struct {
	ID                        string   `json:"id"`
	GroupID                   string   `json:"groupId"`
	TargetThroughput          *float64 `json:"targetThroughput,omitempty"`
	TargetThroughputThreshold *float64 `json:"targetThroughputThreshold,omitempty"`
	IsDefault                 bool     `json:"isDefault"`

	Version string `json:"-"`
}

// ConfigItemID returns the id of the config item of a group.
func ConfigItemID(groupID string) string {
	return groupID + "." + kv.RoleConfig.String()
}

// equals compares the fields that define the group.
func (c *ConfigItem) equals(o *ConfigItem) bool {
	return floatPtrEqual(c.TargetThroughput, o.TargetThroughput) &&
		floatPtrEqual(c.TargetThroughputThreshold, o.TargetThroughputThreshold) &&
		c.IsDefault == o.IsDefault
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ClientItem records the load factor and allocation of one client in a group. It expires
// when the client stops renewing it.
type ClientItem struct {
	ID                  string    `json:"id"`
	GroupID             string    `json:"groupId"`
	LoadFactor          float64   `json:"loadFactor"`
	AllocatedThroughput float64   `json:"allocatedThroughput"`
	InitializeTime      time.Time `json:"initializeTime"`
	// TTL in seconds.
	TTL int64 `json:"ttl"`

	Version string `json:"-"`
}

func encodeItem(id string, groupID string, role kv.ItemRole, v interface{}, ttl time.Duration) (*kv.Item, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &kv.Item{
		ID:           id,
		PartitionKey: kv.PartitionKey(groupID, role),
		Value:        value,
		TTL:          ttl,
	}, nil
}

func decodeConfigItem(item *kv.Item) (*ConfigItem, error) {
	var c ConfigItem
	if err := json.Unmarshal(item.Value, &c); err != nil {
		return nil, errors.Wrapf(err, "decode config item %s", item.ID)
	}
	c.Version = item.Version
	return &c, nil
}

func decodeClientItem(item *kv.Item) (*ClientItem, error) {
	var c ClientItem
	if err := json.Unmarshal(item.Value, &c); err != nil {
		return nil, errors.Wrapf(err, "decode client item %s", item.ID)
	}
	c.Version = item.Version
	return &c, nil
}
