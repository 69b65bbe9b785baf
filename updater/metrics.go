// Copyright 2026 The etcd Authors
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

package updater

import "github.com/prometheus/client_golang/prometheus"

var (
	fetchSec = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollout",
		Subsystem: "partition",
		Name:      "fetch_duration_seconds",
		Help:      "The latency distributions of fetching one remote artifact.",

		// lowest bucket start of upper bound 0.001 sec (1 ms) with factor 2
		// highest bucket start of 0.001 sec * 2^15 == 32.768 sec
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	applySec = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollout",
		Subsystem: "partition",
		Name:      "apply_duration_seconds",
		Help:      "The latency distributions of applying one artifact to the local cache.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	fetchedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "partition",
		Name:      "fetched_bytes_total",
		Help:      "Total number of artifact bytes fetched from the remote store.",
	})

	updates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "partition",
		Name:      "updates_total",
		Help:      "Total number of partition updates by result.",
	}, []string{"result"})

	cacheWipes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "partition",
		Name:      "cache_wipes_total",
		Help:      "Total number of partition caches discarded because they could not be reused.",
	})
)

func init() {
	prometheus.MustRegister(fetchSec)
	prometheus.MustRegister(applySec)
	prometheus.MustRegister(fetchedBytes)
	prometheus.MustRegister(updates)
	prometheus.MustRegister(cacheWipes)
}
