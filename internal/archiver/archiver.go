// Package archiver 把 Redis 里短命的航线画像定期落到 MySQL。
// Redis 画像 7 天过期，原始日志 30 天过期；没有这份快照，
// 长周期的报表和调参分析就无从谈起。
package archiver

import (
	"context"
	"log/slog"
	"time"

	"farecache/internal/model"
	"farecache/internal/pkg/metrics"
	"farecache/internal/store"

	"gorm.io/gorm"
)

// Archiver 每日画像归档器。归档失败只记日志，绝不影响决策路径。
type Archiver struct {
	db  *gorm.DB
	st  *store.Store
	log *slog.Logger
}

// NewArchiver 创建归档器实例
func NewArchiver(db *gorm.DB, st *store.Store, log *slog.Logger) *Archiver {
	return &Archiver{
		db:  db,
		st:  st,
		log: log.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay 把当前全部画像快照到指定日期的日级行。
// 单条航线归档失败不影响其余航线。
func (a *Archiver) ArchiveDay(ctx context.Context, date time.Time) error {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	routes, err := a.st.ListProfileRoutes(ctx)
	if err != nil {
		metrics.ArchiverRunsTotal.WithLabelValues("error").Inc()
		return err
	}

	a.log.Info("archiving route profiles",
		slog.Time("date", day),
		slog.Int("routes", len(routes)))

	var failed int
	for _, route := range routes {
		if err := a.archiveRoute(ctx, route, day); err != nil {
			failed++
			a.log.Error("failed to archive route",
				slog.String("route", route),
				slog.String("error", err.Error()))
			continue
		}
	}

	switch {
	case failed == 0:
		metrics.ArchiverRunsTotal.WithLabelValues("success").Inc()
	case failed < len(routes):
		metrics.ArchiverRunsTotal.WithLabelValues("partial").Inc()
	default:
		metrics.ArchiverRunsTotal.WithLabelValues("error").Inc()
	}

	return nil
}

func (a *Archiver) archiveRoute(ctx context.Context, route string, day time.Time) error {
	profile, err := a.st.GetProfile(ctx, route)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil // 键在 SCAN 和 GET 之间过期了，跳过
	}

	stats := model.RouteStatsDaily{
		Route:              profile.Route,
		DateBucket:         day,
		Origin:             profile.Origin,
		Destination:        profile.Destination,
		Volatility:         profile.Volatility,
		Popularity:         profile.Popularity,
		OptimalTTL:         profile.OptimalTTL,
		AvgPrice:           profile.AvgPrice,
		PriceStdDev:        profile.PriceStdDev,
		SearchesLast7Days:  profile.SearchesLast7Days,
		SearchesLast30Days: profile.SearchesLast30Day,
		SampleCount:        len(profile.PriceSamples),
	}

	// 使用 upsert 写入，同一天重复归档取最后一次
	if err := a.db.WithContext(ctx).
		Where("route = ? AND date_bucket = ?", route, day).
		Assign(stats).
		FirstOrCreate(&stats).Error; err != nil {
		return err
	}
	metrics.ArchiverRowsTotal.WithLabelValues("route_stats_daily").Inc()

	// 表现画像没建立起来之前不写 perf 行
	perf, err := a.st.GetAPIPerformance(ctx, route)
	if err != nil || perf == nil {
		return err
	}

	perfRow := model.APIPerfDaily{
		Route:              perf.Route,
		DateBucket:         day,
		AmadeusWinRate:     perf.AmadeusWinRate,
		DuffelWinRate:      perf.DuffelWinRate,
		AvgPriceDifference: perf.AvgPriceDifference,
		DuffelCoverageRate: perf.DuffelCoverageRate,
		AmadeusAvgRespTime: perf.AmadeusAvgRespTime,
		DuffelAvgRespTime:  perf.DuffelAvgRespTime,
		Comparisons:        perf.Comparisons,
	}

	if err := a.db.WithContext(ctx).
		Where("route = ? AND date_bucket = ?", route, day).
		Assign(perfRow).
		FirstOrCreate(&perfRow).Error; err != nil {
		return err
	}
	metrics.ArchiverRowsTotal.WithLabelValues("api_perf_daily").Inc()

	return nil
}

// RunDailyArchive 执行每日归档任务，快照当天的画像状态。
func (a *Archiver) RunDailyArchive(ctx context.Context) error {
	return a.ArchiveDay(ctx, time.Now().UTC())
}

// CleanupOldStats 清理超过保留期的归档行。
func (a *Archiver) CleanupOldStats(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	cutoff = time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)

	var deleted int64

	result := a.db.WithContext(ctx).
		Where("date_bucket < ?", cutoff).
		Delete(&model.RouteStatsDaily{})
	if result.Error != nil {
		return deleted, result.Error
	}
	deleted += result.RowsAffected

	result = a.db.WithContext(ctx).
		Where("date_bucket < ?", cutoff).
		Delete(&model.APIPerfDaily{})
	if result.Error != nil {
		return deleted, result.Error
	}
	deleted += result.RowsAffected

	a.log.Info("cleaned up old archive rows",
		slog.Int64("deleted_rows", deleted),
		slog.Time("cutoff", cutoff))

	return deleted, nil
}

// RunCleanup 执行数据清理。归档行保留一年。
func (a *Archiver) RunCleanup(ctx context.Context) error {
	if _, err := a.CleanupOldStats(ctx, 365); err != nil {
		a.log.Error("failed to cleanup archive rows", slog.String("error", err.Error()))
	}
	return nil
}
