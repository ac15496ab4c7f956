// Package metrics 提供 Prometheus 监控指标定义和工具函数。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 事件采集相关指标
var (
	// SearchEventsTotal 搜索事件总数
	SearchEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_search_events_total",
		Help: "Total number of ingested search events",
	}, []string{"cache_hit"}) // cache_hit: hit, miss

	// PriceSamplesTotal 价格样本写入总数
	PriceSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_price_samples_total",
		Help: "Total number of recorded price samples",
	}, []string{"source"}) // source: amadeus, duffel, synthetic

	// ComparisonEventsTotal 双源比价事件总数
	ComparisonEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farecache_comparison_events_total",
		Help: "Total number of provider comparison events",
	})
)

// 画像重算相关指标
var (
	// ProfileRecomputeTotal 画像重算总数（按结果分类）
	ProfileRecomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_profile_recompute_total",
		Help: "Total number of route profile recomputes",
	}, []string{"status"}) // status: updated, empty, error

	// ProfileRecomputeDuration 画像重算耗时分布
	ProfileRecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "farecache_profile_recompute_duration_seconds",
		Help:    "Route profile recompute duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	})

	// ProfileDefaultsServedTotal 回退默认画像次数
	ProfileDefaultsServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farecache_profile_defaults_served_total",
		Help: "Total number of times a default profile was synthesized",
	})
)

// TTL 预测相关指标
var (
	// TTLPredictionsTotal TTL 预测总数
	TTLPredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_ttl_predictions_total",
		Help: "Total number of TTL predictions",
	}, []string{"kind", "fallback"}) // kind: live, calendar; fallback: true, false

	// TTLRecommendedMinutes 推荐 TTL 分布（分钟）
	TTLRecommendedMinutes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farecache_ttl_recommended_minutes",
		Help:    "Distribution of recommended cache TTLs in minutes",
		Buckets: []float64{5, 10, 15, 20, 30, 45, 60, 90, 120, 240, 720, 1440},
	}, []string{"kind"})
)

// API 选择相关指标
var (
	// SelectorDecisionsTotal API 选择决策总数
	SelectorDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_selector_decisions_total",
		Help: "Total number of API selection decisions",
	}, []string{"strategy", "rule"}) // strategy: amadeus, duffel, both

	// SelectorEstimatedSavings 预估节省费用累计（美元）
	SelectorEstimatedSavings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farecache_selector_estimated_savings_dollars",
		Help: "Accumulated estimated savings from single-provider decisions",
	})
)

// 预取相关指标
var (
	// PrefetchRunsTotal 预取执行总数
	PrefetchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_prefetch_runs_total",
		Help: "Total number of prefetch executions",
	}, []string{"status"}) // status: completed, off_peak_skip, aborted

	// PrefetchCandidatesTotal 预取候选处理总数
	PrefetchCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_prefetch_candidates_total",
		Help: "Total number of prefetch candidates processed",
	}, []string{"result"}) // result: fetched, skipped, error

	// PrefetchDuration 单次预取批处理耗时
	PrefetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "farecache_prefetch_duration_seconds",
		Help:    "Prefetch batch duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// RateLimitRejectedTotal 限流拒绝总数
	RateLimitRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_ratelimit_rejected_total",
		Help: "Total number of rate limited refresh calls",
	}, []string{"provider"})
)

// Profile Store 相关指标
var (
	// StoreErrorsTotal 存储层错误总数
	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_store_errors_total",
		Help: "Total number of profile store errors",
	}, []string{"op"})

	// StoreOpDuration 存储操作耗时
	StoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farecache_store_op_duration_seconds",
		Help:    "Profile store operation duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"op"})
)

// HTTP API 相关指标
var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration HTTP 请求耗时分布
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farecache_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"method", "path"})
)

// 归档相关指标
var (
	// ArchiverRunsTotal 归档执行总数
	ArchiverRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_archiver_runs_total",
		Help: "Total number of archiver runs",
	}, []string{"status"}) // status: success, partial, error

	// ArchiverRowsTotal 归档行数总数
	ArchiverRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farecache_archiver_rows_total",
		Help: "Total number of archived rows",
	}, []string{"table"})
)

// ServiceUptime 服务启动时间（Unix timestamp）
var ServiceUptime = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "farecache_service_uptime_seconds",
	Help: "Service uptime in seconds since startup",
})
