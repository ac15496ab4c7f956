package model

import (
	"time"
)

// ============================================================================
// Route Stats Daily - 航线画像日级快照
// ============================================================================

// RouteStatsDaily 航线画像的每日归档。
// Redis 里的画像只留 7 天，长周期报表靠这张表。
// 时间列不锁定方言类型：这两张表要同时过 MySQL 和测试用的 sqlite。
type RouteStatsDaily struct {
	ID                 uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Route              string    `gorm:"type:varchar(16);not null;uniqueIndex:uk_route_day,priority:1;index:idx_route" json:"route"`
	DateBucket         time.Time `gorm:"not null;uniqueIndex:uk_route_day,priority:2;index:idx_date_bucket" json:"date_bucket"`
	Origin             string    `gorm:"type:varchar(8);not null;default:''" json:"origin"`
	Destination        string    `gorm:"type:varchar(8);not null;default:''" json:"destination"`
	Volatility         float64   `gorm:"type:decimal(5,4);not null;default:0" json:"volatility"`
	Popularity         float64   `gorm:"type:decimal(10,2);not null;default:0" json:"popularity"`
	OptimalTTL         int       `gorm:"column:optimal_ttl_minutes;not null;default:0" json:"optimal_ttl_minutes"`
	AvgPrice           float64   `gorm:"type:decimal(10,2);not null;default:0" json:"avg_price"`
	PriceStdDev        float64   `gorm:"type:decimal(10,2);not null;default:0" json:"price_stddev"`
	SearchesLast7Days  int       `gorm:"not null;default:0" json:"searches_last_7_days"`
	SearchesLast30Days int       `gorm:"not null;default:0" json:"searches_last_30_days"`
	SampleCount        int       `gorm:"not null;default:0" json:"sample_count"`
	CreatedAt          time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (RouteStatsDaily) TableName() string {
	return "route_stats_daily"
}

// ============================================================================
// API Perf Daily - 双源表现日级快照
// ============================================================================

// APIPerfDaily 双源表现画像的每日归档。
type APIPerfDaily struct {
	ID                 uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Route              string    `gorm:"type:varchar(16);not null;uniqueIndex:uk_perf_route_day,priority:1;index:idx_perf_route" json:"route"`
	DateBucket         time.Time `gorm:"not null;uniqueIndex:uk_perf_route_day,priority:2;index:idx_perf_date" json:"date_bucket"`
	AmadeusWinRate     float64   `gorm:"type:decimal(5,4);not null;default:0" json:"amadeus_win_rate"`
	DuffelWinRate      float64   `gorm:"type:decimal(5,4);not null;default:0" json:"duffel_win_rate"`
	AvgPriceDifference float64   `gorm:"type:decimal(10,2);not null;default:0" json:"avg_price_difference"`
	DuffelCoverageRate float64   `gorm:"type:decimal(5,4);not null;default:0" json:"duffel_coverage_rate"`
	AmadeusAvgRespTime float64   `gorm:"column:amadeus_avg_resp_ms;type:decimal(10,2);not null;default:0" json:"amadeus_avg_resp_ms"`
	DuffelAvgRespTime  float64   `gorm:"column:duffel_avg_resp_ms;type:decimal(10,2);not null;default:0" json:"duffel_avg_resp_ms"`
	Comparisons        int64     `gorm:"not null;default:0" json:"comparisons"`
	CreatedAt          time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (APIPerfDaily) TableName() string {
	return "api_perf_daily"
}
