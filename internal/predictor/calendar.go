package predictor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"farecache/internal/pkg/metrics"
	"farecache/internal/profiler"
	"farecache/internal/season"
	"farecache/internal/store"
)

const (
	// fallbackCalendarTTL 内部出错时的固定回退（秒）
	fallbackCalendarTTL = 7200

	// defaultCalendarHorizon 日历视图默认按 30 天后出发估算
	defaultCalendarHorizon = 30 * 24 * time.Hour

	farFutureDays = 180
)

// CalendarCachePrediction 日历/最低价视图的缓存时长推荐。
type CalendarCachePrediction struct {
	TTLSeconds         int     `json:"ttl"`
	Confidence         float64 `json:"confidence"`
	Reason             string  `json:"reason"`
	Season             string  `json:"season,omitempty"`
	DaysUntilDeparture int     `json:"daysUntilDeparture"`
}

// CalendarPredictor 日历缓存时长预测器。
type CalendarPredictor struct {
	profiles *profiler.Profiler
	logger   *slog.Logger
	now      func() time.Time
}

// NewCalendar creates a calendar-view TTL predictor.
func NewCalendar(profiles *profiler.Profiler, logger *slog.Logger) *CalendarPredictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarPredictor{
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
	}
}

// PredictCalendarCacheTTL 推荐日历视图的缓存时长。
// departureDate 为 nil 时按 30 天后估算（日历通常给整月定价）。
// 任何内部故障都返回固定回退 {7200s, 0.3}，绝不向上抛。
func (p *CalendarPredictor) PredictCalendarCacheTTL(ctx context.Context, origin, destination string, departureDate *time.Time) CalendarCachePrediction {
	now := p.now()
	departure := now.Add(defaultCalendarHorizon)
	if departureDate != nil {
		departure = *departureDate
	}
	days := daysUntil(departure, now)

	base := season.CalculateCalendarCacheTTL(departure, days)
	ttl := float64(base.TTLSeconds)
	reason := base.Reason

	route := store.RouteKey(origin, destination)
	profile := p.profiles.GetRouteProfile(ctx, route)
	if profile == nil {
		// 存储故障：返回固定回退而不是半成品
		metrics.TTLPredictionsTotal.WithLabelValues("calendar", "true").Inc()
		return CalendarCachePrediction{
			TTLSeconds:         fallbackCalendarTTL,
			Confidence:         fallbackConfidence,
			Reason:             "profile unavailable, fixed fallback",
			DaysUntilDeparture: days,
		}
	}

	factor, note := volatilityFactor(profile.Volatility)
	ttl *= factor
	if note != "" {
		reason += "; " + note
	}

	switch {
	case profile.Popularity > 100:
		ttl *= 0.9
		reason += "; fresher for popular routes"
	case profile.Popularity < 10:
		ttl *= 1.2
		reason += "; cache longer for low-traffic"
	}

	seconds := clampInt(int(math.Round(ttl)), season.CalendarMinTTL, season.CalendarMaxTTL)
	confidence := p.confidence(profile, days)

	metrics.TTLPredictionsTotal.WithLabelValues("calendar", "false").Inc()
	metrics.TTLRecommendedMinutes.WithLabelValues("calendar").Observe(float64(seconds) / 60.0)

	return CalendarCachePrediction{
		TTLSeconds:         seconds,
		Confidence:         confidence,
		Reason:             reason,
		Season:             string(season.AnalyzeDate(departure).Season),
		DaysUntilDeparture: days,
	}
}

// confidence 与实时预测同构，外加远期惩罚/临近加成。
// 远期日历价格本质上更不可靠，不值得长期信任。
func (p *CalendarPredictor) confidence(profile *store.RouteCacheProfile, days int) float64 {
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

	if days > farFutureDays {
		score -= 0.2
	} else if days < 7 {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}

// volatilityFactor 波动越大缓存越短。阈值从高到低匹配。
func volatilityFactor(volatility float64) (float64, string) {
	switch {
	case volatility > 0.8:
		return 0.6, "highly volatile pricing"
	case volatility > 0.6:
		return 0.8, "volatile pricing"
	case volatility < 0.2:
		return 1.4, "very stable pricing"
	case volatility < 0.4:
		return 1.2, "stable pricing"
	default:
		return 1.0, ""
	}
}
