// Copyright 2023 The FuseDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry collects every metric of the process; the http server exposes it
// on /metrics.
var Registry = prometheus.NewRegistry()

var (
	OpCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "MetaServer",
			Subsystem: "kv",
			Name:      "op_total",
			Help:      "total applied kv operations by kind",
		},
		[]string{"op"},
	)

	ApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "MetaServer",
			Subsystem: "kv",
			Name:      "apply_duration_seconds",
			Help:      "latency of applying one log entry to the state machine",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"op"},
	)
)

func init() {
	Registry.MustRegister(OpCounter, ApplyDuration)
}
