package store

import "time"

// Provider 上游询价来源标识。
const (
	ProviderAmadeus   = "amadeus"
	ProviderDuffel    = "duffel"
	ProviderSynthetic = "synthetic" // 预取产生的样本
)

// RouteCacheProfile 每条航线一份的缓存画像。
// volatility 和 optimalTTL 永远由样本/日志重算得出，不允许被单独写入，
// 避免字段之间产生漂移。
type RouteCacheProfile struct {
	Route       string `json:"route"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`

	Volatility float64 `json:"volatility"` // [0,1]，越高价格越不可预测
	Popularity float64 `json:"popularity"` // 加权近期搜索量，无固定上界
	OptimalTTL int     `json:"optimalTTL"` // 实时搜索缓存时长（分钟）

	AvgPrice          float64 `json:"avgPrice"`
	PriceStdDev       float64 `json:"priceStdDev"`
	SearchesLast7Days int     `json:"searchesLast7Days"`
	SearchesLast30Day int     `json:"searchesLast30Days"`
	SeasonalTrend     float64 `json:"seasonalTrend"` // 预留字段，当前恒为 1.0

	LastUpdated time.Time `json:"lastUpdated"`

	// 最近 100 条价格样本（最新在前），既用于展示也是统计样本集
	PriceSamples []PriceSample `json:"priceSamples"`
}

// PriceSample 单条价格观测。
type PriceSample struct {
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Timestamp  time.Time `json:"timestamp"`
	CabinClass string    `json:"cabinClass"`
	Source     string    `json:"source"` // amadeus / duffel / synthetic
}

// RouteSearchLog 单次用户搜索记录。
type RouteSearchLog struct {
	Route         string    `json:"route"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureDate string    `json:"departureDate"`
	ReturnDate    string    `json:"returnDate,omitempty"`
	CabinClass    string    `json:"cabinClass"`
	Passengers    int       `json:"passengers"`
	LowestPrice   float64   `json:"lowestPrice"`
	Currency      string    `json:"currency"`
	ResultCount   int       `json:"resultCount"`
	CacheHit      bool      `json:"cacheHit"`
	APICallsMade  []string  `json:"apiCallsMade"`
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"sessionId,omitempty"`
}

// APIPerformanceProfile 每条航线一份的双源表现画像。
// 全部字段用 EMA (α=0.1) 维护，不保留原始历史。
type APIPerformanceProfile struct {
	Route              string    `json:"route"`
	AmadeusWinRate     float64   `json:"amadeusWinRate"` // 与 DuffelWinRate 和为 1.0
	DuffelWinRate      float64   `json:"duffelWinRate"`
	AvgPriceDifference float64   `json:"avgPriceDifference"`     // 有符号，amadeus - duffel
	DuffelCoverageRate float64   `json:"duffelCoverageRate"`     // duffel 有库存的比较占比
	AmadeusAvgRespTime float64   `json:"amadeusAvgResponseTime"` // 毫秒
	DuffelAvgRespTime  float64   `json:"duffelAvgResponseTime"`  // 毫秒
	Comparisons        int64     `json:"comparisons"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// DefaultProfile 返回一条航线的保守默认画像（首次访问时落盘）。
func DefaultProfile(origin, destination string, now time.Time) *RouteCacheProfile {
	return &RouteCacheProfile{
		Route:         RouteKey(origin, destination),
		Origin:        origin,
		Destination:   destination,
		Volatility:    0.5, // 中等，避免稀疏数据带来的虚假信心
		Popularity:    0,
		OptimalTTL:    15,
		SeasonalTrend: 1.0,
		LastUpdated:   now,
	}
}

// DefaultAPIPerformance 返回双源表现画像的种子值。
func DefaultAPIPerformance(route string, now time.Time) *APIPerformanceProfile {
	return &APIPerformanceProfile{
		Route:              route,
		AmadeusWinRate:     0.5,
		DuffelWinRate:      0.5,
		AvgPriceDifference: 0,
		DuffelCoverageRate: 0.5,
		LastUpdated:        now,
	}
}

// RouteKey 拼接航线标识，如 "JFK-LAX"。
func RouteKey(origin, destination string) string {
	return origin + "-" + destination
}
