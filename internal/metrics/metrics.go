// Package metrics exposes the broker's Prometheus collectors: the
// statistics the /stats endpoint reports plus the counters the rest of
// the stack (decode errors, peer state) needs to be observable.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every Prometheus collector a broker node registers.
type Registry struct {
	EventsIngested             prometheus.Counter
	EventsMatched              prometheus.Counter
	NotificationsSent          prometheus.Counter
	NotificationsDroppedOverflow prometheus.Counter
	DecodeErrors               prometheus.Counter
	DuplicatesSuppressed       prometheus.Counter

	PeersUp   prometheus.Gauge
	PeersDown prometheus.Gauge

	ActiveSubscriptions prometheus.Gauge
	ActiveSubscribers   prometheus.Gauge

	IngressQueueDepth prometheus.Gauge
	EgressQueueDepth  *prometheus.GaugeVec
}

// NewRegistry creates the broker's collectors and registers them with
// Prometheus's default registerer, which Handler serves. A second call in
// the same process panics on duplicate registration.
func NewRegistry() *Registry {
	return &Registry{
		EventsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventbroker_events_ingested_total",
			Help: "Total number of events accepted on the publisher ingress port",
		}),
		EventsMatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventbroker_events_matched_total",
			Help: "Total number of events that matched at least one subscription",
		}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventbroker_notifications_sent_total",
			Help: "Total number of notifications delivered to subscribers",
		}),
		NotificationsDroppedOverflow: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventbroker_notifications_dropped_overflow_total",
			Help: "Total number of notifications dropped due to a full subscriber egress queue",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventbroker_decode_errors_total",
			Help: "Total number of wire messages that failed to decode",
		}),
		DuplicatesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventbroker_duplicates_suppressed_total",
			Help: "Total number of peer messages suppressed as duplicates by message_id",
		}),
		PeersUp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventbroker_peers_up",
			Help: "Number of peer broker links currently UP",
		}),
		PeersDown: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventbroker_peers_down",
			Help: "Number of peer broker links currently DOWN",
		}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventbroker_active_subscriptions",
			Help: "Number of subscriptions currently registered on this broker",
		}),
		ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventbroker_active_subscribers",
			Help: "Number of connected subscriber clients",
		}),
		IngressQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eventbroker_ingress_queue_depth",
			Help: "Current depth of the publisher ingress queue",
		}),
		EgressQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventbroker_egress_queue_depth",
			Help: "Current depth of a subscriber's egress queue",
		}, []string{"subscriber_id"}),
	}
}

// Handler returns the HTTP handler exposing /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
