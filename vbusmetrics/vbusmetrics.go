// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package vbusmetrics exposes optional Prometheus instrumentation for the
// discovery, handshake, transceiver and bridge packages. Callers that pass
// a nil Registry get one from NewNopRegistry, whose collectors still count
// but are never registered, so nothing is exported.
package vbusmetrics

import "github.com/prometheus/client_golang/prometheus"

// Registry collects the counters/gauges every instrumented package
// updates. A Registry from NewNopRegistry registers nothing, so its values
// are never exported.
type Registry struct {
	DevicesDiscovered     prometheus.Gauge
	DiscoveryRounds       prometheus.Counter
	HandshakeFailures     *prometheus.CounterVec
	TransceiveRetries     *prometheus.CounterVec
	TransceiveTimeouts    *prometheus.CounterVec
	TransceiveSuccess     *prometheus.CounterVec
	BridgeClientsAttached prometheus.Gauge
}

// NewRegistry builds a Registry and registers its collectors with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		DevicesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "govbus",
			Subsystem: "discovery",
			Name:      "devices_discovered",
			Help:      "Number of devices found by the most recent discovery round.",
		}),
		DiscoveryRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govbus",
			Subsystem: "discovery",
			Name:      "rounds_total",
			Help:      "Number of broadcast rounds issued.",
		}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govbus",
			Subsystem: "handshake",
			Name:      "failures_total",
			Help:      "Handshake failures by command.",
		}, []string{"command"}),
		TransceiveRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govbus",
			Subsystem: "transceiver",
			Name:      "retries_total",
			Help:      "Retry attempts by operation.",
		}, []string{"operation"}),
		TransceiveTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govbus",
			Subsystem: "transceiver",
			Name:      "timeouts_total",
			Help:      "Exhausted-retries timeouts by operation.",
		}, []string{"operation"}),
		TransceiveSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govbus",
			Subsystem: "transceiver",
			Name:      "success_total",
			Help:      "Successful replies by operation.",
		}, []string{"operation"}),
		BridgeClientsAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "govbus",
			Subsystem: "bridge",
			Name:      "clients_attached",
			Help:      "Number of TCP clients currently attached to the bridge hub.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			r.DevicesDiscovered,
			r.DiscoveryRounds,
			r.HandshakeFailures,
			r.TransceiveRetries,
			r.TransceiveTimeouts,
			r.TransceiveSuccess,
			r.BridgeClientsAttached,
		)
	}
	return r
}

// NewNopRegistry returns a Registry backed by collectors that are never
// registered with any Prometheus registerer, for callers that don't run a
// metrics endpoint.
func NewNopRegistry() *Registry {
	return NewRegistry(nil)
}
