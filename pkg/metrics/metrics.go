package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLM 调用延迟（毫秒）
	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_ms",
			Help:    "LLM completion call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"op", "status"},
	)

	// 邮件分析结果计数
	EmailAnalyzedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_analyzed_count",
			Help: "Total number of email analyses by outcome",
		},
		[]string{"status"}, // status: processed, failed, fallback
	)

	// 重试计数
	RetryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_retry_count",
			Help: "Total number of LLM retries by reason",
		},
		[]string{"op", "reason"}, // reason: rate_limit, error
	)

	BatchRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_run_duration_seconds",
			Help:    "Duration of batch analysis runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~65s
		},
		[]string{"method", "path", "status"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the tracer threshold",
		},
	)

	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Total number of outbox events published by result",
		},
		[]string{"routing_key", "status"},
	)
)

// RecordLLMCallLatency 记录 LLM 调用延迟
func RecordLLMCallLatency(op, status string, duration time.Duration) {
	LLMCallLatency.WithLabelValues(op, status).Observe(float64(duration.Milliseconds()))
}

// IncrementEmailAnalyzed 增加邮件分析计数
func IncrementEmailAnalyzed(status string) {
	EmailAnalyzedCount.WithLabelValues(status).Inc()
}

func IncrementRetry(op, reason string) {
	RetryCount.WithLabelValues(op, reason).Inc()
}

func RecordBatchRun(duration time.Duration) {
	BatchRunDuration.Observe(duration.Seconds())
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

// GinMiddleware 记录 HTTP 请求延迟. Unmatched routes are grouped under "unmatched".
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
