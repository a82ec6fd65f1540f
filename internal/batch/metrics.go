// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tableLabels = []string{"table"}

var (
	oidsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_oids_resolved_total",
		Help: "the number of oids the oid-diff driver selected for processing",
	}, tableLabels)

	batchWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_objects_written_total",
		Help: "the number of objects passed to the snapshot writer per sub-batch",
	}, tableLabels)

	batchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_retries_total",
		Help: "the number of times a sub-batch was retried after a source transport error",
	}, tableLabels)

	batchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_failures_total",
		Help: "the number of sub-batches that failed after exhausting retries",
	}, tableLabels)
)

func observeOIDsResolved(table string, n int) {
	oidsResolved.WithLabelValues(table).Add(float64(n))
}

func observeBatchWritten(table string, n int) {
	batchWritten.WithLabelValues(table).Add(float64(n))
}

func observeBatchRetry(table string) {
	batchRetries.WithLabelValues(table).Inc()
}

func observeBatchFailure(table string) {
	batchFailures.WithLabelValues(table).Inc()
}
