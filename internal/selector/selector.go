// Package selector 按航线历史表现决定每次搜索要调用哪些上游报价源。
// Amadeus 按调用计费，Duffel 免费；能安全地只调一边就是真金白银的节省。
package selector

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"farecache/internal/pkg/metrics"
	"farecache/internal/profiler"
	"farecache/internal/store"
)

// Strategy 查询策略。
type Strategy string

const (
	StrategyAmadeus Strategy = "amadeus"
	StrategyDuffel  Strategy = "duffel"
	StrategyBoth    Strategy = "both"
)

// Decision 一次选择决策。
type Decision struct {
	Strategy         Strategy `json:"strategy"`
	Confidence       float64  `json:"confidence"`
	Reason           string   `json:"reason"`
	EstimatedSavings float64  `json:"estimatedSavings"`
}

// 规则命中标签，只进指标，不进响应体。
const (
	ruleABSampling     = "ab_sampling"
	ruleNoProfile      = "no_profile"
	ruleAmadeusWins    = "amadeus_dominant"
	ruleDuffelCoverage = "duffel_low_coverage"
	ruleDuffelWins     = "duffel_dominant"
	ruleInternational  = "international"
	rulePremiumCabin   = "premium_cabin"
	ruleCompetitive    = "competitive"
	ruleDefault        = "default"
)

const (
	// defaultSampleRate 永久 A/B 采样率。这是长期的数据质量税，
	// 不是冷启动阶段，不要因为某条航线"已经学够了"就关掉。
	defaultSampleRate = 0.10

	// defaultCostPerCall Amadeus 单次调用成本（美元）
	defaultCostPerCall = 0.04
)

// Config 选择器配置。零值字段取默认。
type Config struct {
	SampleRate       float64
	CostPerCall      float64
	DomesticAirports []string
}

// Selector API 选择器。读多写少，与画像更新并发调用是安全的。
type Selector struct {
	perf   *profiler.Profiler
	logger *slog.Logger

	sampleRate  float64
	costPerCall float64
	domestic    map[string]struct{}

	// rand 返回 [0,1)，测试里替换掉以关闭/固定采样分支
	rand func() float64
}

// New 创建 API 选择器。
func New(perf *profiler.Profiler, cfg Config, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	costPerCall := cfg.CostPerCall
	if costPerCall <= 0 {
		costPerCall = defaultCostPerCall
	}

	airports := cfg.DomesticAirports
	if len(airports) == 0 {
		airports = DefaultDomesticAirports
	}
	domestic := make(map[string]struct{}, len(airports))
	for _, code := range airports {
		domestic[strings.ToUpper(code)] = struct{}{}
	}

	return &Selector{
		perf:        perf,
		logger:      logger,
		sampleRate:  sampleRate,
		costPerCall: costPerCall,
		domestic:    domestic,
		rand:        rand.Float64,
	}
}

// SelectAPIs 决定一次搜索调用哪些报价源。规则从上到下，先中先得。
// returnDate 目前不参与决策，保留在签名里是因为调用方有这个字段。
func (s *Selector) SelectAPIs(ctx context.Context, origin, destination string, departureDate time.Time, returnDate *time.Time, cabinClass string) Decision {
	_ = departureDate
	_ = returnDate

	d, rule := s.decide(ctx, origin, destination, cabinClass)

	if d.Strategy != StrategyBoth {
		d.EstimatedSavings = s.costPerCall
		metrics.SelectorEstimatedSavings.Add(s.costPerCall)
	}
	metrics.SelectorDecisionsTotal.WithLabelValues(string(d.Strategy), rule).Inc()

	s.logger.Debug("api selection",
		slog.String("route", store.RouteKey(origin, destination)),
		slog.String("strategy", string(d.Strategy)),
		slog.String("rule", rule),
		slog.Float64("confidence", d.Confidence))

	return d
}

func (s *Selector) decide(ctx context.Context, origin, destination, cabinClass string) (Decision, string) {
	// 1. A/B 采样：无条件双查，保持对比数据持续流入
	if s.rand() < s.sampleRate {
		return Decision{
			Strategy:   StrategyBoth,
			Confidence: 1.0,
			Reason:     "A/B sampling, querying both for data quality",
		}, ruleABSampling
	}

	perf := s.perf.GetAPIPerformance(ctx, store.RouteKey(origin, destination))

	// 2. 没有历史表现，双查兜底
	if perf == nil {
		return Decision{
			Strategy:   StrategyBoth,
			Confidence: 0.3,
			Reason:     "no performance history, bootstrapping",
		}, ruleNoProfile
	}

	// 3. Amadeus 明显占优且价差小，单查省钱
	if perf.AmadeusWinRate > 0.80 && math.Abs(perf.AvgPriceDifference) < 10 {
		return Decision{
			Strategy:   StrategyAmadeus,
			Confidence: 0.85,
			Reason:     "amadeus wins consistently with small price gap",
		}, ruleAmadeusWins
	}

	// 4. Duffel 覆盖率太低，查了也大概率是空的
	if perf.DuffelCoverageRate < 0.30 {
		return Decision{
			Strategy:   StrategyAmadeus,
			Confidence: 0.80,
			Reason:     "duffel rarely returns fares on this route",
		}, ruleDuffelCoverage
	}

	// 5. Duffel 占优且便宜得多
	if perf.DuffelWinRate > 0.75 && perf.AvgPriceDifference > 15 {
		return Decision{
			Strategy:   StrategyDuffel,
			Confidence: 0.75,
			Reason:     "duffel consistently cheaper by a wide margin",
		}, ruleDuffelWins
	}

	// 6. 国际航线覆盖优先
	if s.isInternational(origin, destination) {
		return Decision{
			Strategy:   StrategyBoth,
			Confidence: 0.90,
			Reason:     "international route, comprehensive coverage matters",
		}, ruleInternational
	}

	// 7. 高舱位客户对全面性更敏感
	if isPremiumCabin(cabinClass) {
		return Decision{
			Strategy:   StrategyBoth,
			Confidence: 0.85,
			Reason:     "premium cabin, querying both sources",
		}, rulePremiumCabin
	}

	// 8. 胜率接近，还分不出胜负
	if math.Abs(perf.AmadeusWinRate-perf.DuffelWinRate) < 0.20 {
		return Decision{
			Strategy:   StrategyBoth,
			Confidence: 0.70,
			Reason:     "competitive route, no clear winner yet",
		}, ruleCompetitive
	}

	// 9. 默认双查
	return Decision{
		Strategy:   StrategyBoth,
		Confidence: 0.60,
		Reason:     "default strategy",
	}, ruleDefault
}

// isInternational 任一端不在美国国内机场表里就按国际处理。
// 没见过的机场码宁可多查也不漏价。
func (s *Selector) isInternational(origin, destination string) bool {
	if _, ok := s.domestic[strings.ToUpper(origin)]; !ok {
		return true
	}
	if _, ok := s.domestic[strings.ToUpper(destination)]; !ok {
		return true
	}
	return false
}

func isPremiumCabin(cabinClass string) bool {
	switch strings.ToLower(cabinClass) {
	case "business", "first":
		return true
	default:
		return false
	}
}
