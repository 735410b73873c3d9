package monitoring

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waitly_queue_length",
			Help: "Current queue length per venue (waiting + called tickets)",
		},
		[]string{"venue_id"},
	)

	ticketTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitly_ticket_transitions_total",
			Help: "Ticket state transitions",
		},
		[]string{"venue_id", "to_status"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitly_queue_operations_total",
			Help: "Queue operations by outcome",
		},
		[]string{"operation", "status"},
	)

	promotionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitly_promotion_retries_total",
			Help: "Promotion attempts retried after losing the per-venue race",
		},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitly_notifications_total",
			Help: "Outbound notification sends by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	waitTimeObserved = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waitly_observed_wait_minutes",
			Help:    "Observed wait time folded into venue stats",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"venue_id"},
	)
)

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectQueueLengths()

	return monitor
}

func (m *Monitor) collectQueueLengths() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()

		venueIDs, err := m.redis.SMembers(ctx, "active_venues").Result()
		if err != nil {
			continue
		}
		for _, venueID := range venueIDs {
			length, err := m.redis.HGet(ctx, "venue:live:"+venueID, "queue_length").Int64()
			if err != nil {
				continue
			}
			queueLength.WithLabelValues(venueID).Set(float64(length))
		}
	}
}

func TrackQueueOperation(operation, status string) {
	queueOperations.WithLabelValues(operation, status).Inc()
}

func TrackTransition(venueID, toStatus string) {
	ticketTransitions.WithLabelValues(venueID, toStatus).Inc()
}

func TrackPromotionRetry() {
	promotionRetries.Inc()
}

func TrackNotification(kind, status string) {
	notifications.WithLabelValues(kind, status).Inc()
}

func TrackObservedWait(venueID string, minutes float64) {
	waitTimeObserved.WithLabelValues(venueID).Observe(minutes)
}

// ServeMetrics runs the Prometheus endpoint on its own port.
func ServeMetrics(port string) {
	e := echo.New()
	e.GET("/metrics", func(c echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	srv := &http.Server{Addr: ":" + port, Handler: e}

	slog.Info("metrics endpoint listening", "port", port)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}
