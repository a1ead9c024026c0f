package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubewatch_poll_cycles_total",
		Help: "Poll cycles run, by result",
	}, []string{"result"})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tubewatch_poll_cycle_duration_seconds",
		Help:    "Duration of completed poll cycles",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
	})
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubewatch_feed_fetches_total",
		Help: "Feed fetches, by result (ok, empty, failed)",
	}, []string{"result"})
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubewatch_notifications_total",
		Help: "Notification attempts, by outcome",
	}, []string{"outcome"})
	autoUnsubscribes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubewatch_auto_unsubscribes_total",
		Help: "Links removed without a user command, by reason",
	}, []string{"reason"})
)
