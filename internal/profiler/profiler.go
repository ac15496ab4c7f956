// Package profiler 维护航线级别的统计画像。
// 搜索/价格事件在请求路径上同步落盘，统计重算在后台异步完成。
package profiler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"farecache/internal/pkg/metrics"
	"farecache/internal/store"

	"golang.org/x/sync/singleflight"
)

const (
	// emaAlpha EMA 平滑系数
	emaAlpha = 0.1
	// inlineSampleCap 画像内联保留的价格样本上限（最新在前）
	inlineSampleCap = 100
	// statsWindow 统计窗口
	statsWindow = 30 * 24 * time.Hour
	// recomputeTimeout 单次后台重算的时间预算
	recomputeTimeout = 10 * time.Second
)

// Profiler 航线画像服务。
// 并发说明: 画像更新是无锁的 read-modify-write，并发写之间可能互相覆盖。
// 这是有意的取舍: 画像是统计缓存，丢一次更新只造成有界误差，
// 下一次重算会从原始样本重新推出正确值。
type Profiler struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group // 同一航线的并发重算合并为一次
	wg    sync.WaitGroup
}

// New creates a route profiler.
func New(st *store.Store, logger *slog.Logger) *Profiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiler{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// GetRouteProfile returns the persisted profile for a route, synthesizing and
// persisting a default one on first access. Store errors are logged and
// surfaced as nil; callers must fall back to conservative defaults.
func (p *Profiler) GetRouteProfile(ctx context.Context, route string) *store.RouteCacheProfile {
	profile, err := p.store.GetProfile(ctx, route)
	if err != nil {
		p.logger.Warn("get route profile failed",
			slog.String("route", route),
			slog.String("error", err.Error()))
		return nil
	}
	if profile != nil {
		return profile
	}

	// 懒创建默认画像并落盘
	origin, destination := splitRoute(route)
	profile = store.DefaultProfile(origin, destination, p.now())
	metrics.ProfileDefaultsServedTotal.Inc()
	if err := p.store.SaveProfile(ctx, profile); err != nil {
		p.logger.Warn("persist default profile failed",
			slog.String("route", route),
			slog.String("error", err.Error()))
	}
	return profile
}

// LogSearch 记录一次用户搜索。
// 阻塞请求路径的只有日志/样本追加；画像重算在后台进行，错误只记日志。
func (p *Profiler) LogSearch(ctx context.Context, log *store.RouteSearchLog) error {
	if log == nil || log.Route == "" {
		return errors.New("search log is nil or route is empty")
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = p.now()
	}

	if err := p.store.PushSearchLog(ctx, log); err != nil {
		return err
	}

	hitLabel := "miss"
	if log.CacheHit {
		hitLabel = "hit"
	}
	metrics.SearchEventsTotal.WithLabelValues(hitLabel).Inc()

	// 无结果的搜索没有价格信号，只记日志不记样本
	if log.LowestPrice > 0 {
		sample := &store.PriceSample{
			Price:      log.LowestPrice,
			Currency:   log.Currency,
			Timestamp:  log.Timestamp,
			CabinClass: log.CabinClass,
			Source:     firstAPICall(log.APICallsMade),
		}
		if err := p.store.AddPriceSample(ctx, log.Route, sample); err != nil {
			return err
		}
		metrics.PriceSamplesTotal.WithLabelValues(sample.Source).Inc()
	}

	p.recomputeAsync(ctx, log.Route)
	return nil
}

// LogPrice 插入一条带时间戳的价格样本（30 天窗口内）。
func (p *Profiler) LogPrice(ctx context.Context, route string, sample *store.PriceSample) error {
	if sample == nil || route == "" {
		return errors.New("price sample is nil or route is empty")
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = p.now()
	}
	if sample.Source == "" {
		sample.Source = store.ProviderSynthetic
	}
	if err := p.store.AddPriceSample(ctx, route, sample); err != nil {
		return err
	}
	metrics.PriceSamplesTotal.WithLabelValues(sample.Source).Inc()
	return nil
}

// LogAPIPerformance 用 EMA 更新航线的双源表现画像。
// amadeusPrice/duffelPrice 为 nil 表示该来源没有返回任何库存。
// 胜率/价差只在双方都有价格时更新；覆盖率只看 duffel 是否给价；
// 响应时间每次都更新。并发调用之间可能丢更新，见 Profiler 的并发说明。
func (p *Profiler) LogAPIPerformance(ctx context.Context, route string, amadeusPrice, duffelPrice *float64, amadeusMillis, duffelMillis float64) error {
	if route == "" {
		return errors.New("route is empty")
	}

	perf, err := p.store.GetAPIPerformance(ctx, route)
	if err != nil {
		return err
	}
	if perf == nil {
		perf = store.DefaultAPIPerformance(route, p.now())
	}

	if amadeusPrice != nil && duffelPrice != nil {
		won := 0.0
		if *amadeusPrice < *duffelPrice {
			won = 1.0
		}
		perf.AmadeusWinRate = ema(perf.AmadeusWinRate, won)
		perf.DuffelWinRate = 1.0 - perf.AmadeusWinRate
		perf.AvgPriceDifference = ema(perf.AvgPriceDifference, *amadeusPrice-*duffelPrice)
	}

	coverage := 0.0
	if duffelPrice != nil {
		coverage = 1.0
	}
	perf.DuffelCoverageRate = ema(perf.DuffelCoverageRate, coverage)

	perf.AmadeusAvgRespTime = ema(perf.AmadeusAvgRespTime, amadeusMillis)
	perf.DuffelAvgRespTime = ema(perf.DuffelAvgRespTime, duffelMillis)
	perf.Comparisons++
	perf.LastUpdated = p.now()

	metrics.ComparisonEventsTotal.Inc()
	return p.store.SaveAPIPerformance(ctx, perf)
}

// GetAPIPerformance returns the performance profile, or nil when absent or on
// store error.
func (p *Profiler) GetAPIPerformance(ctx context.Context, route string) *store.APIPerformanceProfile {
	perf, err := p.store.GetAPIPerformance(ctx, route)
	if err != nil {
		p.logger.Warn("get api performance failed",
			slog.String("route", route),
			slog.String("error", err.Error()))
		return nil
	}
	return perf
}

// recomputeAsync 触发后台画像重算，不阻塞调用方。
func (p *Profiler) recomputeAsync(ctx context.Context, route string) {
	detached := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		recomputeCtx, cancel := context.WithTimeout(detached, recomputeTimeout)
		defer cancel()
		if err := p.Recompute(recomputeCtx, route); err != nil {
			p.logger.Warn("profile recompute failed",
				slog.String("route", route),
				slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until all in-flight recomputes finish. Shutdown/test helper.
func (p *Profiler) Wait() {
	p.wg.Wait()
}

// Recompute 从最近 30 天的搜索日志和价格样本重新推导画像。
// 两者都为空时不落任何数据。
func (p *Profiler) Recompute(ctx context.Context, route string) error {
	_, err, _ := p.group.Do(route, func() (interface{}, error) {
		start := time.Now()
		err := p.recompute(ctx, route)
		metrics.ProfileRecomputeDuration.Observe(time.Since(start).Seconds())
		return nil, err
	})
	return err
}

func (p *Profiler) recompute(ctx context.Context, route string) error {
	now := p.now()
	since := now.Add(-statsWindow)

	logs, err := p.store.SearchLogsSince(ctx, route, since)
	if err != nil {
		metrics.ProfileRecomputeTotal.WithLabelValues("error").Inc()
		return err
	}
	samples, err := p.store.PriceSamplesSince(ctx, route, since)
	if err != nil {
		metrics.ProfileRecomputeTotal.WithLabelValues("error").Inc()
		return err
	}

	if len(logs) == 0 && len(samples) == 0 {
		metrics.ProfileRecomputeTotal.WithLabelValues("empty").Inc()
		return nil
	}

	profile, err := p.store.GetProfile(ctx, route)
	if err != nil {
		metrics.ProfileRecomputeTotal.WithLabelValues("error").Inc()
		return err
	}
	if profile == nil {
		origin, destination := splitRoute(route)
		profile = store.DefaultProfile(origin, destination, now)
	}

	prices := make([]float64, 0, len(samples))
	for _, s := range samples {
		prices = append(prices, s.Price)
	}

	searches7d := 0
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, log := range logs {
		if !log.Timestamp.Before(weekAgo) {
			searches7d++
		}
	}
	searches30d := len(logs)

	mean, stddev := priceStats(prices)
	profile.Volatility = volatilityFromStats(mean, stddev, len(prices))
	profile.Popularity = 0.7*float64(searches7d) + 0.3*float64(searches30d)
	profile.AvgPrice = mean
	profile.PriceStdDev = stddev
	profile.SearchesLast7Days = searches7d
	profile.SearchesLast30Day = searches30d
	profile.OptimalTTL = calculateOptimalTTL(profile.Volatility, profile.Popularity)
	profile.SeasonalTrend = 1.0
	profile.LastUpdated = now
	profile.PriceSamples = newestFirst(samples, inlineSampleCap)

	if err := p.store.SaveProfile(ctx, profile); err != nil {
		metrics.ProfileRecomputeTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.ProfileRecomputeTotal.WithLabelValues("updated").Inc()

	p.logger.Debug("route profile recomputed",
		slog.String("route", route),
		slog.Float64("volatility", profile.Volatility),
		slog.Float64("popularity", profile.Popularity),
		slog.Int("optimal_ttl_min", profile.OptimalTTL),
		slog.Int("samples", len(samples)))
	return nil
}

// calculateOptimalTTL 推导实时搜索缓存时长（分钟）。规则按优先级排列，先中先得:
//  1. 热门且稳定 (popularity > 100 且 volatility < 0.3) → 60
//  2. 较热门较稳定 (popularity > 50 且 volatility < 0.5) → 30
//  3. 高波动 (volatility > 0.7) → 10
//  4. 冷门 (popularity < 10) → 20
//  5. 其他 → 15
func calculateOptimalTTL(volatility, popularity float64) int {
	switch {
	case popularity > 100 && volatility < 0.3:
		return 60
	case popularity > 50 && volatility < 0.5:
		return 30
	case volatility > 0.7:
		return 10
	case popularity < 10:
		return 20
	default:
		return 15
	}
}

// volatilityFromStats 波动率 = min(1.0, 2 × 变异系数)。
// 样本不足 2 条或均价为 0 时返回 0.5（中等，避免稀疏数据的虚假信心）。
func volatilityFromStats(mean, stddev float64, n int) float64 {
	if n < 2 || mean == 0 {
		return 0.5
	}
	return math.Min(1.0, 2.0*stddev/mean)
}

// priceStats 返回均值和总体标准差。
func priceStats(prices []float64) (mean, stddev float64) {
	if len(prices) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range prices {
		sum += v
	}
	mean = sum / float64(len(prices))

	variance := 0.0
	for _, v := range prices {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(prices))
	return mean, math.Sqrt(variance)
}

// newestFirst 将按时间升序的样本反转并截断。
func newestFirst(samples []store.PriceSample, limit int) []store.PriceSample {
	out := make([]store.PriceSample, 0, min(len(samples), limit))
	for i := len(samples) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, samples[i])
	}
	return out
}

func ema(old, observation float64) float64 {
	return old*(1-emaAlpha) + observation*emaAlpha
}

func firstAPICall(calls []string) string {
	if len(calls) > 0 {
		return calls[0]
	}
	return store.ProviderAmadeus
}

func splitRoute(route string) (origin, destination string) {
	parts := strings.SplitN(route, "-", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return route, ""
}
