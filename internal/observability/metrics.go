package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AishaRafeeq/go-token-backend/internal/services"
)

var (
	// queueEvents counts lifecycle events by name and resulting status.
	// Category is deliberately not a label; category sets are operator
	// defined and the per-status breakdown lives in /reports.
	queueEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_total",
			Help: "Total queue lifecycle events by name and status.",
		},
		[]string{"event", "status"},
	)
)

func init() {
	prometheus.MustRegister(queueEvents)
}

// MetricsPublisher decorates a services.Publisher with Prometheus counters.
// Every event increments queue_events_total before being forwarded.
type MetricsPublisher struct {
	Next services.Publisher
}

// Publish implements services.Publisher.
func (p MetricsPublisher) Publish(ctx context.Context, ev services.Event) {
	queueEvents.WithLabelValues(ev.Name, ev.Status).Inc()
	if p.Next != nil {
		p.Next.Publish(ctx, ev)
	}
}
