// Package metrics exposes the server's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ito_connections_open",
		Help: "Currently open signaling connections.",
	})
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ito_rooms_created_total",
		Help: "Rooms created since start.",
	})
	RoomsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ito_rooms_deleted_total",
		Help: "Rooms deleted after the last player left.",
	})
	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ito_voice_signals_relayed_total",
		Help: "Voice signaling envelopes relayed 1:1, by type.",
	}, []string{"type"})
)
