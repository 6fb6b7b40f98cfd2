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

import "github.com/tikv/throughput-control/internal/mockstore/memstore"

// MemStore is an in-memory kv.ItemStore.
type MemStore = memstore.MemStore

// Option configures a MemStore.
type Option = memstore.Option

// Op identifies a store operation for hooks.
type Op = memstore.Op

// Hook is called before an operation is applied.
type Hook = memstore.Hook

// Store operations.
const (
	OpReadContainer = memstore.OpReadContainer
	OpRead          = memstore.OpRead
	OpCreate        = memstore.OpCreate
	OpReplace       = memstore.OpReplace
	OpQuery         = memstore.OpQuery
)

var (
	// New creates a MemStore.
	New = memstore.New
	// WithClock sets the clock used to expire items.
	WithClock = memstore.WithClock
	// WithContainer sets the properties returned by ReadContainer.
	WithContainer = memstore.WithContainer
)
