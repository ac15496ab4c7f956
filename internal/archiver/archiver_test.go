package archiver

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"farecache/internal/model"
	"farecache/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupArchiver(t *testing.T) (*Archiver, *store.Store, *gorm.DB, func()) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st, err := store.New(rdb)
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	a := NewArchiver(db, st, log)

	return a, st, db, func() {
		rdb.Close()
		s.Close()
	}
}

func TestArchiveDay_SnapshotsProfiles(t *testing.T) {
	a, st, db, cleanup := setupArchiver(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()

	profile := store.DefaultProfile("JFK", "LAX", now)
	profile.Volatility = 0.42
	profile.Popularity = 88
	profile.OptimalTTL = 30
	profile.AvgPrice = 312.5
	profile.SearchesLast7Days = 95
	require.NoError(t, st.SaveProfile(ctx, profile))

	perf := store.DefaultAPIPerformance("JFK-LAX", now)
	perf.AmadeusWinRate = 0.7
	perf.DuffelWinRate = 0.3
	perf.Comparisons = 40
	require.NoError(t, st.SaveAPIPerformance(ctx, perf))

	day := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	require.NoError(t, a.ArchiveDay(ctx, day))

	var stats model.RouteStatsDaily
	require.NoError(t, db.First(&stats, "route = ?", "JFK-LAX").Error)
	assert.Equal(t, 0.42, stats.Volatility)
	assert.Equal(t, 88.0, stats.Popularity)
	assert.Equal(t, 30, stats.OptimalTTL)
	assert.Equal(t, 95, stats.SearchesLast7Days)
	// 时间戳归一到当天零点
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), stats.DateBucket.UTC())

	var perfRow model.APIPerfDaily
	require.NoError(t, db.First(&perfRow, "route = ?", "JFK-LAX").Error)
	assert.Equal(t, 0.7, perfRow.AmadeusWinRate)
	assert.Equal(t, int64(40), perfRow.Comparisons)
}

func TestArchiveDay_UpsertSameDay(t *testing.T) {
	a, st, db, cleanup := setupArchiver(t)
	defer cleanup()

	ctx := context.Background()
	profile := store.DefaultProfile("JFK", "LAX", time.Now())
	profile.Popularity = 10
	require.NoError(t, st.SaveProfile(ctx, profile))

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.ArchiveDay(ctx, day))

	// 画像更新后同日重跑，取最后一次的值，不产生重复行
	profile.Popularity = 20
	require.NoError(t, st.SaveProfile(ctx, profile))
	require.NoError(t, a.ArchiveDay(ctx, day))

	var count int64
	require.NoError(t, db.Model(&model.RouteStatsDaily{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stats model.RouteStatsDaily
	require.NoError(t, db.First(&stats, "route = ?", "JFK-LAX").Error)
	assert.Equal(t, 20.0, stats.Popularity)
}

func TestArchiveDay_SkipsPerfWhenAbsent(t *testing.T) {
	a, st, db, cleanup := setupArchiver(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, st.SaveProfile(ctx, store.DefaultProfile("BOS", "SEA", time.Now())))

	require.NoError(t, a.ArchiveDay(ctx, time.Now().UTC()))

	var statsCount, perfCount int64
	require.NoError(t, db.Model(&model.RouteStatsDaily{}).Count(&statsCount).Error)
	require.NoError(t, db.Model(&model.APIPerfDaily{}).Count(&perfCount).Error)
	assert.Equal(t, int64(1), statsCount)
	assert.Equal(t, int64(0), perfCount)
}

func TestCleanupOldStats(t *testing.T) {
	a, _, db, cleanup := setupArchiver(t)
	defer cleanup()

	ctx := context.Background()
	old := time.Now().UTC().AddDate(0, 0, -400)
	recent := time.Now().UTC().AddDate(0, 0, -10)

	require.NoError(t, db.Create(&model.RouteStatsDaily{Route: "JFK-LAX", DateBucket: old}).Error)
	require.NoError(t, db.Create(&model.RouteStatsDaily{Route: "JFK-LAX", DateBucket: recent}).Error)
	require.NoError(t, db.Create(&model.APIPerfDaily{Route: "JFK-LAX", DateBucket: old}).Error)

	deleted, err := a.CleanupOldStats(ctx, 365)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var count int64
	require.NoError(t, db.Model(&model.RouteStatsDaily{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
