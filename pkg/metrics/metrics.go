// Package metrics 定义了服务导出的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests 按路由与状态码统计请求数。
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buddychat",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	// RelayRequests 按供应商与结果统计中继调用。outcome 取值 ok / missing_key / invalid_key / cancelled / error。
	RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buddychat",
		Name:      "relay_requests_total",
		Help:      "Relay calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	// RelayDuration 记录中继调用耗时（包含流式传输时间）。
	RelayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "buddychat",
		Name:      "relay_duration_seconds",
		Help:      "Relay call latency by provider.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	// RateLimited 统计被限流拒绝的请求。
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buddychat",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	// FeedbackEvents 统计消费到的反馈事件。
	FeedbackEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buddychat",
		Name:      "feedback_events_total",
		Help:      "Consumed feedback events by model and type.",
	}, []string{"model", "type"})
)
