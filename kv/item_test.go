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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "db/orders/batch.config", PartitionKey("db/orders/batch", RoleConfig))
	assert.Equal(t, "db/orders/batch.client", PartitionKey("db/orders/batch", RoleClient))
	assert.NotEqual(t, PartitionKey("g", RoleConfig), PartitionKey("g", RoleClient))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "success", ResultSuccess.String())
	assert.Equal(t, "version_conflict", ResultVersionConflict.String())
	assert.Equal(t, "not_found", ResultNotFound.String())
	assert.Equal(t, "Result(9)", Result(9).String())
	assert.Equal(t, "ItemRole(7)", ItemRole(7).String())
}

func TestItemClone(t *testing.T) {
	item := &Item{ID: "a", PartitionKey: "p", Value: []byte("v"), Version: "3"}
	c := item.Clone()
	c.Value[0] = 'x'
	assert.Equal(t, []byte("v"), item.Value)
	assert.Equal(t, "3", c.Version)

	var nilItem *Item
	assert.Nil(t, nilItem.Clone())
}
