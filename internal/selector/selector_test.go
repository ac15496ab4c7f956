package selector

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"farecache/internal/profiler"
	"farecache/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSelector(t *testing.T) (*Selector, *store.Store, func()) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st, err := store.New(rdb)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	sel := New(profiler.New(st, logger), Config{}, logger)
	sel.rand = func() float64 { return 0.99 } // 默认关掉采样分支

	return sel, st, func() {
		rdb.Close()
		s.Close()
	}
}

func savePerf(t *testing.T, st *store.Store, route string, mutate func(*store.APIPerformanceProfile)) {
	t.Helper()
	perf := store.DefaultAPIPerformance(route, time.Now())
	mutate(perf)
	require.NoError(t, st.SaveAPIPerformance(context.Background(), perf))
}

func selectDomestic(sel *Selector, origin, destination string) Decision {
	return sel.SelectAPIs(context.Background(), origin, destination, time.Now().AddDate(0, 0, 14), nil, "economy")
}

func TestSelectAPIs_ABSamplingAlwaysBoth(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	// 即便 amadeus 历史压倒性占优，采样分支也必须双查
	savePerf(t, st, "JFK-LAX", func(p *store.APIPerformanceProfile) {
		p.AmadeusWinRate = 0.95
		p.DuffelWinRate = 0.05
		p.AvgPriceDifference = 2
	})

	sel.rand = func() float64 { return 0.05 }
	d := selectDomestic(sel, "JFK", "LAX")

	assert.Equal(t, StrategyBoth, d.Strategy)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, 0.0, d.EstimatedSavings)
}

func TestSelectAPIs_SamplingFloorOverManyCalls(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	savePerf(t, st, "JFK-LAX", func(p *store.APIPerformanceProfile) {
		p.AmadeusWinRate = 0.95
		p.DuffelWinRate = 0.05
		p.AvgPriceDifference = 2
	})

	// 确定性轮转: 每 10 次有 1 次落入采样区间
	calls := 0
	sel.rand = func() float64 {
		calls++
		if calls%10 == 0 {
			return 0.05
		}
		return 0.95
	}

	both := 0
	for i := 0; i < 1000; i++ {
		if selectDomestic(sel, "JFK", "LAX").Strategy == StrategyBoth {
			both++
		}
	}
	assert.GreaterOrEqual(t, both, 100, "sampling floor must hold regardless of dominance")
}

func TestSelectAPIs_NoProfileBootstraps(t *testing.T) {
	sel, _, cleanup := setupSelector(t)
	defer cleanup()

	d := selectDomestic(sel, "JFK", "LAX")
	assert.Equal(t, StrategyBoth, d.Strategy)
	assert.Equal(t, 0.3, d.Confidence)
}

func TestSelectAPIs_AmadeusDominant(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	savePerf(t, st, "JFK-LAX", func(p *store.APIPerformanceProfile) {
		p.AmadeusWinRate = 0.85
		p.DuffelWinRate = 0.15
		p.AvgPriceDifference = -5 // 价差绝对值 < 10
	})

	d := selectDomestic(sel, "JFK", "LAX")
	assert.Equal(t, StrategyAmadeus, d.Strategy)
	assert.Equal(t, 0.85, d.Confidence)
	assert.Equal(t, defaultCostPerCall, d.EstimatedSavings)
}

func TestSelectAPIs_DuffelLowCoverage(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	savePerf(t, st, "JFK-LAX", func(p *store.APIPerformanceProfile) {
		p.DuffelCoverageRate = 0.2
	})

	d := selectDomestic(sel, "JFK", "LAX")
	assert.Equal(t, StrategyAmadeus, d.Strategy)
	assert.Equal(t, 0.80, d.Confidence)
}

func TestSelectAPIs_DuffelDominant(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	savePerf(t, st, "JFK-LAX", func(p *store.APIPerformanceProfile) {
		p.AmadeusWinRate = 0.2
		p.DuffelWinRate = 0.8
		p.AvgPriceDifference = 20 // amadeus 平均贵 20
	})

	d := selectDomestic(sel, "JFK", "LAX")
	assert.Equal(t, StrategyDuffel, d.Strategy)
	assert.Equal(t, 0.75, d.Confidence)
	assert.Equal(t, defaultCostPerCall, d.EstimatedSavings)
}

func TestSelectAPIs_InternationalRoute(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	// 胜率竞争激烈但目的地不在国内表里，国际规则先于竞争规则
	savePerf(t, st, "JFK-LHR", func(p *store.APIPerformanceProfile) {
		p.AmadeusWinRate = 0.55
		p.DuffelWinRate = 0.45
	})

	d := selectDomestic(sel, "JFK", "LHR")
	assert.Equal(t, StrategyBoth, d.Strategy)
	assert.Equal(t, 0.90, d.Confidence)
}

func TestSelectAPIs_PremiumCabin(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	// 国内航线、胜率悬殊但未触发 3/4/5，走高舱位规则
	savePerf(t, st, "JFK-LAX", func(p *store.APIPerformanceProfile) {
		p.AmadeusWinRate = 0.75
		p.DuffelWinRate = 0.25
		p.AvgPriceDifference = 12
	})

	d := sel.SelectAPIs(context.Background(), "JFK", "LAX", time.Now().AddDate(0, 0, 14), nil, "business")
	assert.Equal(t, StrategyBoth, d.Strategy)
	assert.Equal(t, 0.85, d.Confidence)
}

func TestSelectAPIs_CompetitiveRoute(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	savePerf(t, st, "JFK-LAX", func(p *store.APIPerformanceProfile) {
		p.AmadeusWinRate = 0.55
		p.DuffelWinRate = 0.45
		p.AvgPriceDifference = 12
	})

	d := selectDomestic(sel, "JFK", "LAX")
	assert.Equal(t, StrategyBoth, d.Strategy)
	assert.Equal(t, 0.70, d.Confidence)
}

func TestSelectAPIs_DefaultRule(t *testing.T) {
	sel, st, cleanup := setupSelector(t)
	defer cleanup()

	// 国内 economy，胜率差 ≥ 0.2 但哪条单边规则都不满足
	savePerf(t, st, "JFK-LAX", func(p *store.APIPerformanceProfile) {
		p.AmadeusWinRate = 0.75
		p.DuffelWinRate = 0.25
		p.AvgPriceDifference = 12
	})

	d := selectDomestic(sel, "JFK", "LAX")
	assert.Equal(t, StrategyBoth, d.Strategy)
	assert.Equal(t, 0.60, d.Confidence)
	assert.Equal(t, 0.0, d.EstimatedSavings)
}

func TestSelectAPIs_CustomDomesticList(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	st, err := store.New(rdb)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	sel := New(profiler.New(st, logger), Config{DomesticAirports: []string{"JFK", "LAX"}}, logger)
	sel.rand = func() float64 { return 0.99 }

	savePerf(t, st, "JFK-ORD", func(p *store.APIPerformanceProfile) {})

	// ORD 不在自定义表里 → 国际
	d := selectDomestic(sel, "JFK", "ORD")
	assert.Equal(t, 0.90, d.Confidence)
}

func TestIsInternational(t *testing.T) {
	sel, _, cleanup := setupSelector(t)
	defer cleanup()

	assert.False(t, sel.isInternational("JFK", "LAX"))
	assert.False(t, sel.isInternational("jfk", "lax")) // 大小写不敏感
	assert.True(t, sel.isInternational("JFK", "LHR"))
	assert.True(t, sel.isInternational("NRT", "LAX"))
}
