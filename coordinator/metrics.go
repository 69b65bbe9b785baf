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

package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	updatingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rollout",
		Subsystem: "coordinator",
		Name:      "updating",
		Help:      "Whether the ring group is rolling out a new version (1) or steady (0).",
	}, []string{"ring_group"})

	claimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "coordinator",
		Name:      "deployer_claims_total",
		Help:      "Total number of deployer claim attempts by result.",
	}, []string{"ring_group", "result"})
)

func init() {
	prometheus.MustRegister(updatingGauge)
	prometheus.MustRegister(claimsTotal)
}

func observeState(group string, s State) {
	v := 0.0
	if s.IsUpdating() {
		v = 1
	}
	updatingGauge.WithLabelValues(group).Set(v)
}
