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

package kv

import (
	"context"
	"fmt"
	"time"
)

// PartitionKeyPath is the only partition key path a control container may use. Every item
// written by throughput control carries its partition key in this property.
const PartitionKeyPath = "/groupId"

// Result is the outcome of a conditional store operation. Only infrastructure failures are
// reported as errors, the expected outcomes of optimistic concurrency are results.
type Result int

// Results of ItemStore operations.
const (
	ResultSuccess Result = iota
	// ResultVersionConflict means the item already exists on create, or its version does
	// not match the expected version on replace.
	ResultVersionConflict
	// ResultNotFound means the item does not exist, or has expired.
	ResultNotFound
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultVersionConflict:
		return "version_conflict"
	case ResultNotFound:
		return "not_found"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// ItemRole tells which kind of coordination record an item is. Items of different roles
// of the same group live in different partitions.
type ItemRole int

// Item roles.
const (
	RoleConfig ItemRole = iota
	RoleClient
)

func (r ItemRole) String() string {
	switch r {
	case RoleConfig:
		return "config"
	case RoleClient:
		return "client"
	}
	return fmt.Sprintf("ItemRole(%d)", int(r))
}

// PartitionKey returns the partition that holds the items of the given role for a group.
func PartitionKey(groupID string, role ItemRole) string {
	return groupID + "." + role.String()
}

// ContainerProperties describes the container that holds the coordination records.
type ContainerProperties struct {
	ID               string `json:"id"`
	PartitionKeyPath string `json:"partitionKeyPath"`
}

// Item is a record of the shared item store.
type Item struct {
	ID           string
	PartitionKey string
	Value        []byte
	// Version is the opaque concurrency token assigned by the store on every write.
	Version string
	// TTL is the time to live of the item, zero means it never expires.
	TTL time.Duration
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	c.Value = append([]byte(nil), i.Value...)
	return &c
}

// ItemStore is the shared key-value store that throughput control coordinates through.
// Implementations must honor Item.TTL: an expired item behaves as if it never existed.
type ItemStore interface {
	// ReadContainer returns the properties of the control container.
	ReadContainer(ctx context.Context) (*ContainerProperties, error)
	// ReadItem reads an item by id and partition key.
	ReadItem(ctx context.Context, id, partitionKey string) (*Item, Result, error)
	// CreateItem creates the item, ResultVersionConflict is returned if it already exists.
	CreateItem(ctx context.Context, item *Item) (*Item, Result, error)
	// ReplaceItem replaces an existing item. When ifMatch is not empty the replace only
	// succeeds if the stored version equals it.
	ReplaceItem(ctx context.Context, item *Item, ifMatch string) (*Item, Result, error)
	// QueryItems returns all live items of a partition.
	QueryItems(ctx context.Context, partitionKey string) ([]*Item, error)
}
