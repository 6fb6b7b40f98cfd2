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

import "github.com/prometheus/client_golang/prometheus"

// Shortcuts for performance improvement.
var (
	StoreOpHistogramReadContainer prometheus.Observer
	StoreOpHistogramRead          prometheus.Observer
	StoreOpHistogramReadNotFound  prometheus.Observer
	StoreOpHistogramCreate        prometheus.Observer
	StoreOpHistogramCreateExists  prometheus.Observer
	StoreOpHistogramReplace       prometheus.Observer
	StoreOpHistogramReplaceMiss   prometheus.Observer
	StoreOpHistogramQuery         prometheus.Observer
	StoreOpHistogramError         prometheus.ObserverVec
)

func initShortcuts() {
	StoreOpHistogramReadContainer = ThroughputStoreOpHistogram.WithLabelValues("read_container", "ok")
	StoreOpHistogramRead = ThroughputStoreOpHistogram.WithLabelValues("read", "ok")
	StoreOpHistogramReadNotFound = ThroughputStoreOpHistogram.WithLabelValues("read", "not_found")
	StoreOpHistogramCreate = ThroughputStoreOpHistogram.WithLabelValues("create", "ok")
	StoreOpHistogramCreateExists = ThroughputStoreOpHistogram.WithLabelValues("create", "conflict")
	StoreOpHistogramReplace = ThroughputStoreOpHistogram.WithLabelValues("replace", "ok")
	StoreOpHistogramReplaceMiss = ThroughputStoreOpHistogram.WithLabelValues("replace", "miss")
	StoreOpHistogramQuery = ThroughputStoreOpHistogram.WithLabelValues("query", "ok")
	StoreOpHistogramError = ThroughputStoreOpHistogram.MustCurryWith(prometheus.Labels{LblResult: "error"})
}
