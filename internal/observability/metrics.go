package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	fanoutPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_publish_total",
			Help: "Realtime events published per sink and outcome.",
		},
		[]string{"sink", "result"},
	)
	attachmentIngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_attachment_ingest_total",
			Help: "Attachments ingested by outcome.",
		},
		[]string{"result"},
	)
	attachmentDeleteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_attachment_delete_total",
			Help: "Attachment files removed during chat deletion by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		fanoutPublishTotal,
		attachmentIngestTotal,
		attachmentDeleteTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncFanoutPublish(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	fanoutPublishTotal.WithLabelValues(sink, result).Inc()
}

func IncAttachmentIngest(result string) {
	attachmentIngestTotal.WithLabelValues(result).Inc()
}

func AddAttachmentDeletes(deleted, failed int) {
	attachmentDeleteTotal.WithLabelValues("deleted").Add(float64(deleted))
	attachmentDeleteTotal.WithLabelValues("failed").Add(float64(failed))
}
