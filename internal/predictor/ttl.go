// Package predictor 基于航线画像推荐缓存时长。
// 所有公开方法在缺数据或存储故障时回退到保守默认值，绝不向调用方抛错:
// 它们直接坐在用户搜索的延迟路径上。
package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"farecache/internal/pkg/metrics"
	"farecache/internal/profiler"
	"farecache/internal/store"
)

const (
	// 实时搜索 TTL 上下限（分钟）
	minLiveTTL = 5
	maxLiveTTL = 120

	// 无画像时的保守回退
	fallbackLiveTTL    = 15
	fallbackConfidence = 0.3
	premiumCabinBonus  = 1.2
	freshProfileMaxAge = 24 * time.Hour
)

// Prediction 实时搜索缓存时长推荐。
// Confidence 是"这个数字有多可信"的启发式信号，不是统计意义上的置信区间。
type Prediction struct {
	RecommendedTTL int                    `json:"recommendedTTL"` // 分钟
	Confidence     float64                `json:"confidence"`
	Reason         string                 `json:"reason"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Predictor 实时搜索 TTL 预测器。
type Predictor struct {
	profiles *profiler.Profiler
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a live-search TTL predictor.
func New(profiles *profiler.Profiler, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
	}
}

// PredictOptimalTTL 推荐一次实时搜索结果的缓存时长。
// 画像缺失或存储故障时固定返回 {15min, 0.3}。
func (p *Predictor) PredictOptimalTTL(ctx context.Context, origin, destination, cabinClass string, departureDate time.Time) Prediction {
	route := store.RouteKey(origin, destination)

	profile := p.profiles.GetRouteProfile(ctx, route)
	if profile == nil {
		metrics.TTLPredictionsTotal.WithLabelValues("live", "true").Inc()
		return Prediction{
			RecommendedTTL: fallbackLiveTTL,
			Confidence:     fallbackConfidence,
			Reason:         "no profile data, conservative default",
		}
	}
	if isEmptyProfile(profile) {
		// 首次见到的航线会被懒创建成空画像，对它跑乘数管线
		// 只会放大默认值的噪声，固定回退更诚实
		metrics.TTLPredictionsTotal.WithLabelValues("live", "true").Inc()
		return Prediction{
			RecommendedTTL: fallbackLiveTTL,
			Confidence:     fallbackConfidence,
			Reason:         "no history for route, conservative default",
		}
	}

	days := daysUntil(departureDate, p.now())
	multiplier := temporalMultiplier(days)

	ttl := float64(profile.OptimalTTL) * multiplier
	reason := fmt.Sprintf("base %dmin, %d days out (x%.1f)", profile.OptimalTTL, days, multiplier)

	if isPremiumCabin(cabinClass) {
		ttl *= premiumCabinBonus
		reason += ", premium cabin pricing is steadier (x1.2)"
	}

	recommended := clampInt(int(ttl), minLiveTTL, maxLiveTTL)
	confidence := p.confidence(profile)

	metrics.TTLPredictionsTotal.WithLabelValues("live", "false").Inc()
	metrics.TTLRecommendedMinutes.WithLabelValues("live").Observe(float64(recommended))

	return Prediction{
		RecommendedTTL: recommended,
		Confidence:     confidence,
		Reason:         reason,
		Metadata: map[string]interface{}{
			"volatility":         profile.Volatility,
			"popularity":         profile.Popularity,
			"daysUntilDeparture": days,
			"temporalMultiplier": multiplier,
		},
	}
}

// isEmptyProfile 判断画像是否还没有任何搜索或价格信号
func isEmptyProfile(p *store.RouteCacheProfile) bool {
	return p.Popularity == 0 &&
		p.SearchesLast7Days == 0 &&
		p.SearchesLast30Day == 0 &&
		len(p.PriceSamples) == 0
}

// confidence 启发式可信度: 基础 0.5，按数据量加分，封顶 1.0。
func (p *Predictor) confidence(profile *store.RouteCacheProfile) float64 {
	score := 0.5

	switch {
	case profile.SearchesLast7Days > 50:
		score += 0.2
	case profile.SearchesLast7Days > 10:
		score += 0.1
	}

	switch {
	case len(profile.PriceSamples) >= 50:
		score += 0.2
	case len(profile.PriceSamples) >= 20:
		score += 0.1
	}

	if p.now().Sub(profile.LastUpdated) < freshProfileMaxAge {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// temporalMultiplier 越临近出发，价格变动越快，缓存越短。
func temporalMultiplier(daysUntilDeparture int) float64 {
	switch {
	case daysUntilDeparture < 3:
		return 0.5
	case daysUntilDeparture < 7:
		return 0.7
	case daysUntilDeparture < 14:
		return 1.0
	case daysUntilDeparture < 30:
		return 1.3
	case daysUntilDeparture < 60:
		return 1.5
	default:
		return 2.0
	}
}

func isPremiumCabin(cabinClass string) bool {
	switch strings.ToLower(cabinClass) {
	case "business", "first":
		return true
	default:
		return false
	}
}

func daysUntil(departure, now time.Time) int {
	d := int(departure.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
