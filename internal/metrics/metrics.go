// Package metrics exposes the sentinel's Prometheus instrumentation.
//
// Collectors are package-level and registered on the default registry;
// Server optionally serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CEXMessages counts decoded CEX stream messages by template kind.
	CEXMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_cex_messages_total",
		Help: "Decoded CEX SBE messages by kind.",
	}, []string{"kind"})

	// DecodeErrors counts frames dropped due to decode failures.
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_sbe_decode_errors_total",
		Help: "CEX SBE frames dropped due to decode errors.",
	})

	// PMEEvents counts PME WebSocket frames by type.
	PMEEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_pme_events_total",
		Help: "PME WebSocket frames by type.",
	}, []string{"type"})

	// BookUpdates counts order-book mutations by kind (snapshot or delta).
	BookUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_book_updates_total",
		Help: "PME order-book mutations by kind.",
	}, []string{"kind"})

	// Alerts counts imbalance alerts by outcome: emitted, gated, or dropped.
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_total",
		Help: "Imbalance alerts by outcome.",
	}, []string{"outcome"})

	// ActiveSessions tracks currently active monitoring sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_active_sessions",
		Help: "Monitoring sessions currently recording.",
	})

	// Reports counts report files written.
	Reports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_reports_written_total",
		Help: "Imbalance report files written.",
	})
)
