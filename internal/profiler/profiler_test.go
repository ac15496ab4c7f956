package profiler

import (
	"context"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"farecache/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProfiler(t *testing.T) (*Profiler, *store.Store, *miniredis.Miniredis, func()) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st, err := store.New(rdb)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	p := New(st, logger)

	return p, st, s, func() {
		rdb.Close()
		s.Close()
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestGetRouteProfile_CreatesDefault(t *testing.T) {
	p, st, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	ctx := context.Background()

	profile := p.GetRouteProfile(ctx, "JFK-LAX")
	require.NotNil(t, profile)
	assert.Equal(t, 0.5, profile.Volatility)
	assert.Equal(t, 0.0, profile.Popularity)
	assert.Equal(t, 15, profile.OptimalTTL)
	assert.Equal(t, "JFK", profile.Origin)
	assert.Equal(t, "LAX", profile.Destination)

	// 默认画像必须已经落盘
	persisted, err := st.GetProfile(ctx, "JFK-LAX")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, 15, persisted.OptimalTTL)
}

func TestGetRouteProfile_StoreErrorReturnsNil(t *testing.T) {
	p, _, s, cleanup := setupTestProfiler(t)
	defer cleanup()

	s.Close() // 模拟 Redis 不可用

	profile := p.GetRouteProfile(context.Background(), "JFK-LAX")
	assert.Nil(t, profile)
}

func TestLogSearch_AppendsLogAndSample(t *testing.T) {
	p, st, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	ctx := context.Background()
	err := p.LogSearch(ctx, &store.RouteSearchLog{
		Route:        "JFK-LAX",
		Origin:       "JFK",
		Destination:  "LAX",
		CabinClass:   "economy",
		Passengers:   1,
		LowestPrice:  350,
		Currency:     "USD",
		ResultCount:  12,
		APICallsMade: []string{store.ProviderAmadeus},
	})
	require.NoError(t, err)
	p.Wait()

	logs, err := st.RecentSearchLogs(ctx, "JFK-LAX", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 350.0, logs[0].LowestPrice)

	samples, err := st.PriceSamplesSince(ctx, "JFK-LAX", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, store.ProviderAmadeus, samples[0].Source)
}

func TestLogSearch_ZeroPriceSkipsSample(t *testing.T) {
	p, st, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	ctx := context.Background()
	err := p.LogSearch(ctx, &store.RouteSearchLog{
		Route:       "JFK-LAX",
		ResultCount: 0,
		LowestPrice: 0,
	})
	require.NoError(t, err)
	p.Wait()

	samples, err := st.PriceSamplesSince(ctx, "JFK-LAX", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestRecompute_EmptyRouteIsNoop(t *testing.T) {
	p, st, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, p.Recompute(ctx, "XXX-YYY"))

	profile, err := st.GetProfile(ctx, "XXX-YYY")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestRecompute_EndToEnd_StableBusyRoute(t *testing.T) {
	p, st, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()

	// 7 天内 120 次搜索，价格紧密围绕 $350 (stddev ≈ $10)
	for i := 0; i < 120; i++ {
		ts := now.Add(-time.Duration(i%7*24) * time.Hour).Add(-time.Duration(i) * time.Minute)
		price := 350.0 + float64(i%5-2)*5.0 // 340..360
		require.NoError(t, st.PushSearchLog(ctx, &store.RouteSearchLog{
			Route:       "JFK-LAX",
			LowestPrice: price,
			Timestamp:   ts,
		}))
		require.NoError(t, st.AddPriceSample(ctx, "JFK-LAX", &store.PriceSample{
			Price:     price,
			Currency:  "USD",
			Timestamp: ts,
			Source:    store.ProviderAmadeus,
		}))
	}

	require.NoError(t, p.Recompute(ctx, "JFK-LAX"))

	profile, err := st.GetProfile(ctx, "JFK-LAX")
	require.NoError(t, err)
	require.NotNil(t, profile)

	assert.Less(t, profile.Volatility, 0.3, "tight prices must read as stable")
	assert.Greater(t, profile.Popularity, 100.0)
	assert.Equal(t, 60, profile.OptimalTTL, "rule 1: busy and stable caches for an hour")
	assert.InDelta(t, 350, profile.AvgPrice, 10)
	assert.Equal(t, 120, profile.SearchesLast30Day)
	assert.LessOrEqual(t, len(profile.PriceSamples), 100)
	if len(profile.PriceSamples) > 1 {
		// 最新在前
		assert.True(t, !profile.PriceSamples[0].Timestamp.Before(profile.PriceSamples[1].Timestamp))
	}
}

func TestCalculateOptimalTTL_RulePriority(t *testing.T) {
	tests := []struct {
		name       string
		volatility float64
		popularity float64
		want       int
	}{
		{"busy stable", 0.2, 150, 60},
		{"warm stable", 0.4, 60, 30},
		{"volatile beats unpopular", 0.8, 5, 10},
		{"unpopular", 0.5, 5, 20},
		{"default", 0.5, 30, 15},
		{"volatile popular", 0.9, 200, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calculateOptimalTTL(tt.volatility, tt.popularity))
		})
	}
}

func TestVolatility_ClampedAtOne(t *testing.T) {
	// 变异系数 >= 0.5 时波动率必须被钳到 1.0
	mean, stddev := priceStats([]float64{100, 300, 100, 300, 100, 300})
	cv := stddev / mean
	require.GreaterOrEqual(t, cv, 0.5)
	assert.Equal(t, 1.0, volatilityFromStats(mean, stddev, 6))
}

func TestVolatility_SparseDataDefaults(t *testing.T) {
	assert.Equal(t, 0.5, volatilityFromStats(100, 10, 1))
	assert.Equal(t, 0.5, volatilityFromStats(0, 0, 5))
}

func TestPriceStats_PopulationStdDev(t *testing.T) {
	mean, stddev := priceStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, stddev, 1e-9)
}

func TestLogAPIPerformance_EMAMovesWinRate(t *testing.T) {
	p, _, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	ctx := context.Background()

	// amadeus $100 vs duffel $90 → amadeus 没赢，胜率从 0.5 向 0.45 移动
	err := p.LogAPIPerformance(ctx, "JFK-LAX", floatPtr(100), floatPtr(90), 800, 600)
	require.NoError(t, err)

	perf := p.GetAPIPerformance(ctx, "JFK-LAX")
	require.NotNil(t, perf)
	assert.InDelta(t, 0.45, perf.AmadeusWinRate, 1e-9)
	assert.InDelta(t, 0.55, perf.DuffelWinRate, 1e-9)
	assert.InDelta(t, 1.0, perf.AmadeusWinRate+perf.DuffelWinRate, 1e-9)
	assert.InDelta(t, 1.0, perf.AvgPriceDifference, 1e-9) // 0*0.9 + 10*0.1
	assert.InDelta(t, 0.55, perf.DuffelCoverageRate, 1e-9)
	assert.InDelta(t, 80.0, perf.AmadeusAvgRespTime, 1e-9)
	assert.Equal(t, int64(1), perf.Comparisons)
}

func TestLogAPIPerformance_MissingDuffelOnlyMovesCoverage(t *testing.T) {
	p, _, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	ctx := context.Background()
	err := p.LogAPIPerformance(ctx, "JFK-LAX", floatPtr(100), nil, 800, 2000)
	require.NoError(t, err)

	perf := p.GetAPIPerformance(ctx, "JFK-LAX")
	require.NotNil(t, perf)
	assert.InDelta(t, 0.5, perf.AmadeusWinRate, 1e-9, "win rate untouched without both prices")
	assert.InDelta(t, 0.0, perf.AvgPriceDifference, 1e-9)
	assert.InDelta(t, 0.45, perf.DuffelCoverageRate, 1e-9) // 0.5*0.9 + 0*0.1
	assert.InDelta(t, 200.0, perf.DuffelAvgRespTime, 1e-9, "response time always updates")
}

func TestLogAPIPerformance_ConvergesTowardDominance(t *testing.T) {
	p, _, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, p.LogAPIPerformance(ctx, "JFK-LHR", floatPtr(80), floatPtr(100), 700, 900))
	}

	perf := p.GetAPIPerformance(ctx, "JFK-LHR")
	require.NotNil(t, perf)
	expected := 1.0 - 0.5*math.Pow(0.9, 50)
	assert.InDelta(t, expected, perf.AmadeusWinRate, 1e-6)
	assert.Greater(t, perf.AmadeusWinRate, 0.99)
}

func TestGetAPIPerformance_MissingReturnsNil(t *testing.T) {
	p, _, _, cleanup := setupTestProfiler(t)
	defer cleanup()

	assert.Nil(t, p.GetAPIPerformance(context.Background(), "ZZZ-AAA"))
}

func TestNewestFirst_ReversesAndCaps(t *testing.T) {
	now := time.Now()
	samples := make([]store.PriceSample, 150)
	for i := range samples {
		samples[i] = store.PriceSample{Price: float64(i), Timestamp: now.Add(time.Duration(i) * time.Minute)}
	}

	out := newestFirst(samples, 100)
	require.Len(t, out, 100)
	assert.Equal(t, 149.0, out[0].Price)
	assert.Equal(t, 50.0, out[99].Price)
}
