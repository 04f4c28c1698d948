// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports receive pipeline counters to prometheus. Attach one to a
// Stream, a nil Metrics disables collection.
type Metrics struct {
	PacketsReceived   prometheus.Counter
	OctetsReceived    prometheus.Counter
	ParseErrors       prometheus.Counter
	DuplicatesDropped prometheus.Counter
	GapsAccepted      prometheus.Counter
	BufferedPackets   prometheus.Gauge
	SenderReports     prometheus.Counter
}

// NewMetrics registers the receive metrics on reg. Pass
// prometheus.DefaultRegisterer unless tests need isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtp", Subsystem: "receive",
			Name: "packets_total", Help: "RTP packets received",
		}),
		OctetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtp", Subsystem: "receive",
			Name: "octets_total", Help: "RTP payload octets received",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtp", Subsystem: "receive",
			Name: "parse_errors_total", Help: "datagrams rejected by the RTP parser",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtp", Subsystem: "receive",
			Name: "duplicates_total", Help: "duplicate packets dropped by the reorder buffer",
		}),
		GapsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtp", Subsystem: "receive",
			Name: "gaps_total", Help: "sequence gaps released after the drop out budget",
		}),
		BufferedPackets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtp", Subsystem: "receive",
			Name: "buffered_packets", Help: "packets currently held by the reorder buffer",
		}),
		SenderReports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtp", Subsystem: "receive",
			Name: "sender_reports_total", Help: "RTCP sender reports consumed for clock anchoring",
		}),
	}
}
