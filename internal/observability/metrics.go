package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterbox_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatterbox_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// MessagesSent counts persisted messages by type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterbox_messages_sent_total",
		Help: "Total number of messages persisted by type",
	}, []string{"message_type"})

	// WebSocketConnections is the gauge of open WebSocket sessions on this node.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatterbox_websocket_connections",
		Help: "Number of active WebSocket sessions",
	})

	// WebSocketFrames counts client frames by command.
	WebSocketFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterbox_websocket_frames_total",
		Help: "Total WebSocket client frames by command",
	}, []string{"command"})

	// WebSocketBackpressureDrops counts frames dropped because a client buffer was full.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterbox_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket frames dropped due to backpressure",
	}, []string{"reason"})

	// CacheEvictions counts post-commit cache evictions by result.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterbox_cache_evictions_total",
		Help: "Cache eviction attempts by result",
	}, []string{"result"})

	// CacheEvictionFailures counts evictions that could not be applied.
	CacheEvictionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatterbox_cache_eviction_failures_total",
		Help: "Cache evictions that failed after commit",
	})

	// StoriesSwept counts expired stories removed by the sweeper.
	StoriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatterbox_stories_swept_total",
		Help: "Expired stories deleted by the sweeper",
	})

	// MailDeliveries counts OTP mail outcomes.
	MailDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterbox_mail_deliveries_total",
		Help: "OTP mail deliveries by result",
	}, []string{"result"})

	// RateLimitRejections counts requests rejected by a rate limit policy.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatterbox_rate_limit_rejections_total",
		Help: "Requests rejected by rate limiting",
	}, []string{"policy"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
