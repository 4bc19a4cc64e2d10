package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Rito-w/drone/pkg/notifications"
)

const namespace = "notifications"

// Observer exports delivery events as Prometheus metrics.
type Observer struct {
	created      *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	requeued     *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
}

var _ notifications.Observer = (*Observer)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "created_total",
			Help:      "Notifications accepted by Send.",
		}, []string{"channel"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"channel", "ok"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Time spent in the channel sender.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"channel"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Failed attempts that were given another try, by retry number.",
		}, []string{"channel", "retry"}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_requeued_total",
			Help:      "Due retries handed back to the queue.",
		}, []string{"channel"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Notifications that exhausted their retries.",
		}, []string{"channel"}),
	}

	for _, c := range []prometheus.Collector{o.created, o.attempts, o.duration, o.retries, o.requeued, o.deadLettered} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) NotificationCreated(ch notifications.Channel) {
	o.created.WithLabelValues(ch.String()).Inc()
}

func (o *Observer) AttemptFinished(ch notifications.Channel, ok bool, elapsed time.Duration) {
	o.attempts.WithLabelValues(ch.String(), strconv.FormatBool(ok)).Inc()
	o.duration.WithLabelValues(ch.String()).Observe(elapsed.Seconds())
}

func (o *Observer) RetryScheduled(ch notifications.Channel, retryCount int) {
	o.retries.WithLabelValues(ch.String(), strconv.Itoa(retryCount)).Inc()
}

func (o *Observer) RetryRequeued(ch notifications.Channel) {
	o.requeued.WithLabelValues(ch.String()).Inc()
}

func (o *Observer) DeadLettered(ch notifications.Channel) {
	o.deadLettered.WithLabelValues(ch.String()).Inc()
}
