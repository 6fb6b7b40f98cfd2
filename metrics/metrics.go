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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Client metrics.
var (
	ThroughputGroupTotalGauge       *prometheus.GaugeVec
	ThroughputAllocatedGauge        *prometheus.GaugeVec
	ThroughputClientShareGauge      *prometheus.GaugeVec
	ThroughputLoadFactorGauge       *prometheus.GaugeVec
	ThroughputInstanceCountGauge    *prometheus.GaugeVec
	ThroughputRenewCounter          *prometheus.CounterVec
	ThroughputUsageHistogram        *prometheus.HistogramVec
	ThroughputRequestCounter        *prometheus.CounterVec
	ThroughputStoreOpHistogram      *prometheus.HistogramVec
	ThroughputConfigConflictCounter *prometheus.CounterVec
)

// Label constants.
const (
	LblGroup  = "group"
	LblResult = "result"
	LblType   = "type"
)

func initMetrics(namespace, subsystem string, constLabels prometheus.Labels) {
	ThroughputGroupTotalGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "group_throughput",
			Help:        "Total throughput shared by a throughput control group.",
			ConstLabels: constLabels,
		}, []string{LblGroup})

	ThroughputAllocatedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "allocated_throughput",
			Help:        "Throughput allocated to this client in a group.",
			ConstLabels: constLabels,
		}, []string{LblGroup})

	ThroughputClientShareGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "client_share",
			Help:        "Fraction of the group throughput owned by this client.",
			ConstLabels: constLabels,
		}, []string{LblGroup})

	ThroughputLoadFactorGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "load_factor",
			Help:        "Load factor published by this client.",
			ConstLabels: constLabels,
		}, []string{LblGroup})

	ThroughputInstanceCountGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "instance_count",
			Help:        "Instance count used by locally controlled groups.",
			ConstLabels: constLabels,
		}, []string{LblGroup})

	ThroughputRenewCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "renew_total",
			Help:        "Counter of renewal cycles.",
			ConstLabels: constLabels,
		}, []string{LblGroup, LblResult})

	ThroughputUsageHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "throughput_usage",
			Help:        "Fraction of the allocated throughput consumed in one usage cycle.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 0.75, 0.9, 1, 1.25, 1.5, 2},
		}, []string{LblGroup})

	ThroughputRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "request_total",
			Help:        "Counter of requests seen by throughput control.",
			ConstLabels: constLabels,
		}, []string{LblGroup, LblResult})

	ThroughputStoreOpHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "store_op_duration_seconds",
			Help:        "Bucketed histogram of shared store operations.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 20), // 0.5ms ~ 524s
		}, []string{LblType, LblResult})

	ThroughputConfigConflictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "config_item_conflict_total",
			Help:        "Counter of conflicts creating the shared config item.",
			ConstLabels: constLabels,
		}, []string{LblGroup})

	initShortcuts()
}

func init() {
	initMetrics("throughput", "control", nil)
}

// InitMetrics initializes metrics variables with given namespace and subsystem name.
func InitMetrics(namespace, subsystem string) {
	initMetrics(namespace, subsystem, nil)
}

// InitMetricsWithConstLabels initializes metrics variables with given namespace, subsystem name and const labels.
func InitMetricsWithConstLabels(namespace, subsystem string, constLabels prometheus.Labels) {
	initMetrics(namespace, subsystem, constLabels)
}

// RegisterMetrics registers all metrics variables.
// Note: to change metric namespace or subsystem name, call `InitMetrics` before `RegisterMetrics`.
func RegisterMetrics() {
	prometheus.MustRegister(ThroughputGroupTotalGauge)
	prometheus.MustRegister(ThroughputAllocatedGauge)
	prometheus.MustRegister(ThroughputClientShareGauge)
	prometheus.MustRegister(ThroughputLoadFactorGauge)
	prometheus.MustRegister(ThroughputInstanceCountGauge)
	prometheus.MustRegister(ThroughputRenewCounter)
	prometheus.MustRegister(ThroughputUsageHistogram)
	prometheus.MustRegister(ThroughputRequestCounter)
	prometheus.MustRegister(ThroughputStoreOpHistogram)
	prometheus.MustRegister(ThroughputConfigConflictCounter)
}
