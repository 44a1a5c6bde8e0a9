package metrics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	outboxAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_outbox_attempts_total",
			Help: "Total number of outbox transmission attempts by result.",
		},
		[]string{"result"},
	)
	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_outbox_depth",
			Help: "Number of messages waiting in the outbox.",
		},
	)
	sendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_send_latency_seconds",
			Help:    "Time from enqueue to server acknowledgment.",
			Buckets: prometheus.DefBuckets,
		},
	)
	syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sync_events_total",
			Help: "Total number of transport events handled by the reconciler.",
		},
		[]string{"type", "outcome"},
	)
	syncGapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_sync_gaps_total",
			Help: "Total number of sequence gaps observed in conversation streams.",
		},
	)
	linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_link_state",
			Help: "Current daemon link state (1 for the active state).",
		},
		[]string{"state"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the daemon.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of active websocket snapshot streams.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of audit publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		outboxAttemptsTotal,
		outboxDepth,
		sendLatency,
		syncEventsTotal,
		syncGapsTotal,
		linkState,
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		amqpPublishErrorsTotal,
	)
}

// Outbox attempt results.
const (
	ResultAcked     = "acked"
	ResultFailed    = "failed"
	ResultExhausted = "exhausted"
)

func IncOutboxAttempt(result string) {
	outboxAttemptsTotal.WithLabelValues(result).Inc()
}

func SetOutboxDepth(n int) {
	outboxDepth.Set(float64(n))
}

func ObserveSendLatency(d time.Duration) {
	sendLatency.Observe(d.Seconds())
}

func IncSyncEvent(eventType, outcome string) {
	syncEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func IncSyncGap() {
	syncGapsTotal.Inc()
}

// SetLinkState marks state as the only active link state.
func SetLinkState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		linkState.WithLabelValues(s).Set(v)
	}
}

func IncWSActive() { wsActiveConnections.Inc() }

func DecWSActive() { wsActiveConnections.Dec() }

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}
