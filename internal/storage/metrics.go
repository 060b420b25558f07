// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "storage",
			Name:      "remote_writes_total",
			Help:      "Remote document writes by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	remoteRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "storage",
			Name:      "remote_write_retries_total",
			Help:      "Retried remote write attempts by operation.",
		},
		[]string{"op"},
	)

	loadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "storage",
			Name:      "load_failures_total",
			Help:      "Loads that fell back to empty data, by backend.",
		},
		[]string{"backend"},
	)
)
