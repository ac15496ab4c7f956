// Package prefetch 在低峰时段主动刷新热门航线的价格缓存。
// 候选按画像打分排序，刷新调用走注入的 Fetcher，本包不关心上游长什么样。
package prefetch

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"farecache/internal/pkg/metrics"
	"farecache/internal/pkg/ratelimit"
	"farecache/internal/store"

	"github.com/google/uuid"
)

const (
	defaultLimit     = 50
	defaultCallDelay = 100 * time.Millisecond

	// defaultCostPerCall Amadeus 单次调用成本（美元）
	defaultCostPerCall = 0.04

	// maxAssumedHitRate 预估节省时假定的缓存命中率上限
	maxAssumedHitRate = 0.90

	// 低峰窗口 [start, end)，本地时间
	defaultOffPeakStart = 2
	defaultOffPeakEnd   = 6

	// expectedSearchMargin 日均搜索量的安全余量
	expectedSearchMargin = 1.2
)

// Candidate 一条预取候选航线及其打分明细。
type Candidate struct {
	Route             string  `json:"route"`
	Origin            string  `json:"origin"`
	Destination       string  `json:"destination"`
	Priority          float64 `json:"priority"`
	Popularity        float64 `json:"popularity"`
	Volatility        float64 `json:"volatility"`
	SearchesLast7Days int     `json:"searchesLast7Days"`
	OptimalTTL        int     `json:"optimalTTL"`
	ExpectedSearches  float64 `json:"expectedSearches"`
	EstimatedSavings  float64 `json:"estimatedSavings"`
}

// Result 一轮预取的执行结果。
type Result struct {
	Fetched          int     `json:"fetched"`
	Skipped          int     `json:"skipped"`
	Errors           int     `json:"errors"`
	EstimatedSavings float64 `json:"estimatedSavings"`
	Aborted          bool    `json:"aborted"`
}

// Fetcher 执行一次航线价格刷新。实现方负责真正的上游调用和结果落缓存。
type Fetcher interface {
	Refresh(ctx context.Context, taskID string, c Candidate) error
}

// Config 预取器配置。零值字段取默认。
type Config struct {
	Limit       int
	CallDelay   time.Duration
	CostPerCall float64

	OffPeakStartHour int
	OffPeakEndHour   int

	// 刷新调用限流（每秒令牌数 / 桶容量），0 表示不限流
	RateLimitPerSec int
	RateLimitBurst  int
}

// Prefetcher 预测式预取器。
type Prefetcher struct {
	store    *store.Store
	fetcher  Fetcher
	limiter  *ratelimit.RateLimiter
	throttle *FailureThrottle
	logger   *slog.Logger

	limit       int
	callDelay   time.Duration
	costPerCall float64

	offPeakStart int
	offPeakEnd   int

	rateLimitPerSec int
	rateLimitBurst  int

	now func() time.Time
}

// New 创建预取器。limiter 与 throttle 可为 nil（分别表示不限流、仅本地失败计数）。
func New(st *store.Store, fetcher Fetcher, limiter *ratelimit.RateLimiter, throttle *FailureThrottle, cfg Config, logger *slog.Logger) *Prefetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if throttle == nil {
		throttle = NewFailureThrottle(nil, logger)
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	callDelay := cfg.CallDelay
	if callDelay <= 0 {
		callDelay = defaultCallDelay
	}
	costPerCall := cfg.CostPerCall
	if costPerCall <= 0 {
		costPerCall = defaultCostPerCall
	}
	offPeakStart := cfg.OffPeakStartHour
	offPeakEnd := cfg.OffPeakEndHour
	if offPeakStart == 0 && offPeakEnd == 0 {
		offPeakStart = defaultOffPeakStart
		offPeakEnd = defaultOffPeakEnd
	}

	return &Prefetcher{
		store:           st,
		fetcher:         fetcher,
		limiter:         limiter,
		throttle:        throttle,
		logger:          logger,
		limit:           limit,
		callDelay:       callDelay,
		costPerCall:     costPerCall,
		offPeakStart:    offPeakStart,
		offPeakEnd:      offPeakEnd,
		rateLimitPerSec: cfg.RateLimitPerSec,
		rateLimitBurst:  cfg.RateLimitBurst,
		now:             time.Now,
	}
}

// Candidates 加载全部航线画像并按预取价值排序，返回前 limit 条。
// limit <= 0 时用配置默认值。
func (p *Prefetcher) Candidates(ctx context.Context, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = p.limit
	}

	routes, err := p.store.ListProfileRoutes(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(routes))
	for _, route := range routes {
		profile, err := p.store.GetProfile(ctx, route)
		if err != nil || profile == nil {
			// 单条画像读不出来不影响其余候选
			continue
		}
		candidates = append(candidates, p.score(profile))
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// score 画像 → 候选打分。
// 高人气、高频搜索、价格稳定、缓存寿命长的航线预取收益最大。
func (p *Prefetcher) score(profile *store.RouteCacheProfile) Candidate {
	priority := profile.Popularity*10 +
		float64(profile.SearchesLast7Days)*5 +
		(1-profile.Volatility)*50 +
		float64(profile.OptimalTTL)/60*20

	expected := float64(profile.SearchesLast7Days) / 7 * expectedSearchMargin

	hitRate := float64(profile.OptimalTTL) / 60
	if hitRate > maxAssumedHitRate {
		hitRate = maxAssumedHitRate
	}

	return Candidate{
		Route:             profile.Route,
		Origin:            profile.Origin,
		Destination:       profile.Destination,
		Priority:          priority,
		Popularity:        profile.Popularity,
		Volatility:        profile.Volatility,
		SearchesLast7Days: profile.SearchesLast7Days,
		OptimalTTL:        profile.OptimalTTL,
		ExpectedSearches:  expected,
		EstimatedSavings:  expected * hitRate * p.costPerCall,
	}
}

// IsOffPeakHour 当前是否处于低峰窗口（本地时间，[start, end)）。
func (p *Prefetcher) IsOffPeakHour() bool {
	h := p.now().Hour()
	if p.offPeakStart <= p.offPeakEnd {
		return h >= p.offPeakStart && h < p.offPeakEnd
	}
	// 跨午夜窗口（如 23–05）
	return h >= p.offPeakStart || h < p.offPeakEnd
}

// Execute 执行一轮预取。
// 非低峰时段直接返回零结果，这是硬门禁；force 只留给管理端手动触发。
// onProgress 可为 nil。
func (p *Prefetcher) Execute(ctx context.Context, limit int, force bool, onProgress func(done, total int, c Candidate)) (Result, error) {
	if !force && !p.IsOffPeakHour() {
		p.logger.Info("prefetch skipped outside off-peak window",
			slog.Int("hour", p.now().Hour()))
		metrics.PrefetchRunsTotal.WithLabelValues("off_peak_skip").Inc()
		return Result{}, nil
	}

	start := time.Now()
	defer func() {
		metrics.PrefetchDuration.Observe(time.Since(start).Seconds())
	}()

	candidates, err := p.Candidates(ctx, limit)
	if err != nil {
		metrics.PrefetchRunsTotal.WithLabelValues("aborted").Inc()
		return Result{}, err
	}

	var result Result
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			result.Aborted = true
			metrics.PrefetchRunsTotal.WithLabelValues("aborted").Inc()
			return result, err
		}

		if cached, err := p.store.HasCachedSearch(ctx, c.Route); err == nil && cached {
			result.Skipped++
			metrics.PrefetchCandidatesTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if !p.allowRefresh(ctx) {
			result.Skipped++
			metrics.PrefetchCandidatesTotal.WithLabelValues("skipped").Inc()
			metrics.RateLimitRejectedTotal.WithLabelValues(store.ProviderAmadeus).Inc()
			continue
		}

		taskID := uuid.NewString()
		if err := p.fetcher.Refresh(ctx, taskID, c); err != nil {
			result.Errors++
			metrics.PrefetchCandidatesTotal.WithLabelValues("error").Inc()
			p.logger.Warn("prefetch candidate failed",
				slog.String("task_id", taskID),
				slog.String("route", c.Route),
				slog.String("error", err.Error()))

			if p.throttle.RecordFailure(ctx, taskID) {
				result.Aborted = true
				p.logger.Error("aborting prefetch batch after consecutive failures",
					slog.Int("fetched", result.Fetched),
					slog.Int("errors", result.Errors))
				metrics.PrefetchRunsTotal.WithLabelValues("aborted").Inc()
				return result, nil
			}
		} else {
			p.throttle.RecordSuccess(ctx)
			result.Fetched++
			result.EstimatedSavings += c.EstimatedSavings
			metrics.PrefetchCandidatesTotal.WithLabelValues("fetched").Inc()

			// 标记已缓存，让后续轮次跳过
			if ttl := time.Duration(c.OptimalTTL) * time.Minute; ttl > 0 {
				if err := p.store.MarkCachedSearch(ctx, c.Route, ttl); err != nil {
					p.logger.Warn("mark cached search failed",
						slog.String("route", c.Route),
						slog.String("error", err.Error()))
				}
			}
		}

		if onProgress != nil {
			onProgress(i+1, len(candidates), c)
		}

		// 上游礼貌间隔
		if i < len(candidates)-1 {
			select {
			case <-ctx.Done():
				result.Aborted = true
				metrics.PrefetchRunsTotal.WithLabelValues("aborted").Inc()
				return result, ctx.Err()
			case <-time.After(p.callDelay):
			}
		}
	}

	p.logger.Info("prefetch batch completed",
		slog.Int("fetched", result.Fetched),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors),
		slog.Float64("estimated_savings", result.EstimatedSavings),
		slog.Duration("duration", time.Since(start)))
	metrics.PrefetchRunsTotal.WithLabelValues("completed").Inc()

	return result, nil
}

// allowRefresh 尝试取一个限流令牌。没配限流器就直接放行。
func (p *Prefetcher) allowRefresh(ctx context.Context) bool {
	if p.limiter == nil || p.rateLimitPerSec <= 0 {
		return true
	}
	allowed, err := p.limiter.Allow(ctx, store.ProviderAmadeus, p.rateLimitPerSec, p.rateLimitBurst)
	if err != nil {
		// 限流器自身故障时放行，预取是锦上添花，不值得因此停摆
		p.logger.Warn("rate limiter error, allowing refresh",
			slog.String("error", err.Error()))
		return true
	}
	return allowed
}
