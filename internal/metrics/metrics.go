// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 The storage-serviced Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package metrics holds the Prometheus collectors exposed over the
// loopback debug HTTP surface (§4.14).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BrokerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_serviced_broker_calls_total",
			Help: "Total number of broker operation calls by interface, method and outcome",
		},
		[]string{"interface", "method", "outcome"},
	)

	BrokerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_serviced_broker_call_duration_seconds",
			Help:    "Broker operation call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"interface", "method"},
	)

	DisksDiscovered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_serviced_disks_discovered",
			Help: "Number of disks currently known to the discovery engine",
		},
	)

	MountsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_serviced_rclone_mounts_active",
			Help: "Number of active rclone mounts by scope",
		},
		[]string{"scope"},
	)

	RcloneMountDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storage_serviced_rclone_mount_duration_seconds",
			Help:    "Time taken to mount an rclone remote in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuthorizationDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_serviced_authorization_denials_total",
			Help: "Total number of polkit authorization denials by action",
		},
		[]string{"action"},
	)

	ToolExecFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_serviced_tool_exec_failures_total",
			Help: "Total number of external tool invocation failures by tool name",
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(BrokerCallsTotal)
	prometheus.MustRegister(BrokerCallDuration)
	prometheus.MustRegister(DisksDiscovered)
	prometheus.MustRegister(MountsActive)
	prometheus.MustRegister(RcloneMountDuration)
	prometheus.MustRegister(AuthorizationDenialsTotal)
	prometheus.MustRegister(ToolExecFailuresTotal)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall time for one broker call.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// RecordBrokerCall increments the call counter and duration histogram for
// one completed broker operation.
func RecordBrokerCall(iface, method, outcome string, t *Timer) {
	BrokerCallsTotal.WithLabelValues(iface, method, outcome).Inc()
	t.ObserveDurationVec(BrokerCallDuration, iface, method)
}
