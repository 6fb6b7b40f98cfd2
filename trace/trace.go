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

// Package trace lets an application receive the coordination events of throughput
// control without depending on a tracing backend.
package trace

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Category identifies a trace event family.
type Category uint32

const (
	// CategoryRenew traces the share renewals of global groups.
	CategoryRenew Category = iota
	// CategoryConfigItem traces creation and adoption of group config items.
	CategoryConfigItem
	// CategoryAdmission traces throttled requests.
	CategoryAdmission
)

func (c Category) String() string {
	switch c {
	case CategoryRenew:
		return "renew"
	case CategoryConfigItem:
		return "config_item"
	case CategoryAdmission:
		return "admission"
	}
	return "unknown"
}

// EventTracer is the interface for recording trace events.
type EventTracer interface {
	// TraceEvent records a trace event with the given category, name, and fields.
	TraceEvent(ctx context.Context, category Category, name string, fields ...zap.Field)
}

// CategoryChecker is an optional interface that EventTracer implementations can provide
// to allow efficient category enablement checks before expensive event construction.
type CategoryChecker interface {
	// IsCategoryEnabled returns true if the specified category is currently enabled for tracing.
	IsCategoryEnabled(category Category) bool
}

type noopTracer struct{}

func (noopTracer) TraceEvent(context.Context, Category, string, ...zap.Field) {}

func (noopTracer) IsCategoryEnabled(Category) bool { return false }

type tracerHolder struct {
	tracer EventTracer
}

var globalTracer atomic.Pointer[tracerHolder]

func init() {
	globalTracer.Store(&tracerHolder{noopTracer{}})
}

// SetGlobalTracer sets the global tracer implementation, nil restores the no-op tracer.
func SetGlobalTracer(tracer EventTracer) {
	if tracer == nil {
		tracer = noopTracer{}
	}
	globalTracer.Store(&tracerHolder{tracer})
}

// TraceEvent records a trace event using the global tracer.
func TraceEvent(ctx context.Context, category Category, name string, fields ...zap.Field) {
	globalTracer.Load().tracer.TraceEvent(ctx, category, name, fields...)
}

// IsCategoryEnabled checks if a category is enabled for tracing.
// Returns true if the tracer supports category checking and the category is enabled,
// or true if the tracer doesn't support checking.
func IsCategoryEnabled(category Category) bool {
	tracer := globalTracer.Load().tracer
	if checker, ok := tracer.(CategoryChecker); ok {
		return checker.IsCategoryEnabled(category)
	}
	return true
}
