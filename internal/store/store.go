// Package store 封装 Profile Store（Redis）访问。
// 这是本子系统唯一的持久化边界，负责 key 命名和 JSON 序列化格式。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"farecache/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	KeyProfilePrefix     = "route:profile:"  // route:profile:{ROUTE}
	KeySearchesPrefix    = "route:searches:" // route:searches:{ROUTE}
	KeyPricesPrefix      = "route:prices:"   // route:prices:{ROUTE}
	KeyAPIPerfPrefix     = "route:api:perf:" // route:api:perf:{ROUTE}
	KeySearchCachePrefix = "search:cache:"   // 实时搜索结果缓存标记

	// ProfileTTL 画像过期时间，每次写入刷新
	ProfileTTL = 7 * 24 * time.Hour
	// RawLogTTL 原始日志/样本过期时间
	RawLogTTL = 30 * 24 * time.Hour
	// SearchLogCap 每条航线保留的搜索日志上限（最新在前）
	SearchLogCap = 1000
	// PriceSampleWindow 价格样本滚动窗口
	PriceSampleWindow = 30 * 24 * time.Hour
)

var ErrClientNil = errors.New("redis client is nil")

// Store Profile Store 客户端。
type Store struct {
	rdb *redis.Client
}

// New creates a profile store backed by an existing redis client.
func New(rdb *redis.Client) (*Store, error) {
	if rdb == nil {
		return nil, ErrClientNil
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) observe(op string, start time.Time) {
	metrics.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) fail(op string, err error) error {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w", op, err)
}

// ============================================================================
// 航线画像
// ============================================================================

// GetProfile returns the persisted profile, or (nil, nil) when none exists.
func (s *Store) GetProfile(ctx context.Context, route string) (*RouteCacheProfile, error) {
	defer s.observe("get_profile", time.Now())

	data, err := s.rdb.Get(ctx, KeyProfilePrefix+route).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get_profile", err)
	}

	var profile RouteCacheProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, s.fail("get_profile", err)
	}
	return &profile, nil
}

// SaveProfile persists a profile and refreshes its 7-day expiry.
func (s *Store) SaveProfile(ctx context.Context, profile *RouteCacheProfile) error {
	if profile == nil || profile.Route == "" {
		return errors.New("profile is nil or route is empty")
	}
	defer s.observe("save_profile", time.Now())

	data, err := json.Marshal(profile)
	if err != nil {
		return s.fail("save_profile", err)
	}
	if err := s.rdb.Set(ctx, KeyProfilePrefix+profile.Route, data, ProfileTTL).Err(); err != nil {
		return s.fail("save_profile", err)
	}
	return nil
}

// ListProfileRoutes 用 SCAN 枚举所有已持久化画像的航线标识。
func (s *Store) ListProfileRoutes(ctx context.Context) ([]string, error) {
	defer s.observe("list_profiles", time.Now())

	var cursor uint64
	var routes []string
	prefixLen := len(KeyProfilePrefix)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, KeyProfilePrefix+"*", 100).Result()
		if err != nil {
			return nil, s.fail("list_profiles", err)
		}
		for _, key := range batch {
			if len(key) > prefixLen {
				routes = append(routes, key[prefixLen:])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return routes, nil
}

// ============================================================================
// 搜索日志（有界列表，最新在前）
// ============================================================================

// PushSearchLog appends a search log, trims to SearchLogCap, refreshes expiry.
func (s *Store) PushSearchLog(ctx context.Context, log *RouteSearchLog) error {
	if log == nil || log.Route == "" {
		return errors.New("search log is nil or route is empty")
	}
	defer s.observe("push_search_log", time.Now())

	data, err := json.Marshal(log)
	if err != nil {
		return s.fail("push_search_log", err)
	}

	key := KeySearchesPrefix + log.Route
	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, SearchLogCap-1)
	pipe.Expire(ctx, key, RawLogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.fail("push_search_log", err)
	}
	return nil
}

// RecentSearchLogs returns up to limit most-recent search logs (newest first).
func (s *Store) RecentSearchLogs(ctx context.Context, route string, limit int) ([]RouteSearchLog, error) {
	if limit <= 0 || limit > SearchLogCap {
		limit = SearchLogCap
	}
	defer s.observe("recent_search_logs", time.Now())

	raw, err := s.rdb.LRange(ctx, KeySearchesPrefix+route, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, s.fail("recent_search_logs", err)
	}

	logs := make([]RouteSearchLog, 0, len(raw))
	for _, item := range raw {
		var log RouteSearchLog
		if err := json.Unmarshal([]byte(item), &log); err != nil {
			// 单条损坏不影响其余日志
			continue
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// SearchLogsSince returns logs with Timestamp >= since (newest first).
func (s *Store) SearchLogsSince(ctx context.Context, route string, since time.Time) ([]RouteSearchLog, error) {
	logs, err := s.RecentSearchLogs(ctx, route, SearchLogCap)
	if err != nil {
		return nil, err
	}
	filtered := logs[:0]
	for _, log := range logs {
		if !log.Timestamp.Before(since) {
			filtered = append(filtered, log)
		}
	}
	return filtered, nil
}

// ============================================================================
// 价格样本（时间排序 ZSET，score = unix 秒）
// ============================================================================

// AddPriceSample inserts a sample and prunes anything older than the window.
func (s *Store) AddPriceSample(ctx context.Context, route string, sample *PriceSample) error {
	if sample == nil || route == "" {
		return errors.New("price sample is nil or route is empty")
	}
	defer s.observe("add_price_sample", time.Now())

	data, err := json.Marshal(sample)
	if err != nil {
		return s.fail("add_price_sample", err)
	}

	key := KeyPricesPrefix + route
	cutoff := sample.Timestamp.Add(-PriceSampleWindow).Unix()

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(sample.Timestamp.Unix()),
		Member: data,
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, RawLogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.fail("add_price_sample", err)
	}
	return nil
}

// PriceSamplesSince returns samples with timestamp >= since, oldest first.
func (s *Store) PriceSamplesSince(ctx context.Context, route string, since time.Time) ([]PriceSample, error) {
	defer s.observe("price_samples_since", time.Now())

	raw, err := s.rdb.ZRangeByScore(ctx, KeyPricesPrefix+route, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, s.fail("price_samples_since", err)
	}

	samples := make([]PriceSample, 0, len(raw))
	for _, item := range raw {
		var sample PriceSample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// ============================================================================
// 双源表现画像
// ============================================================================

// GetAPIPerformance returns the persisted performance profile, or (nil, nil).
func (s *Store) GetAPIPerformance(ctx context.Context, route string) (*APIPerformanceProfile, error) {
	defer s.observe("get_api_perf", time.Now())

	data, err := s.rdb.Get(ctx, KeyAPIPerfPrefix+route).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get_api_perf", err)
	}

	var perf APIPerformanceProfile
	if err := json.Unmarshal(data, &perf); err != nil {
		return nil, s.fail("get_api_perf", err)
	}
	return &perf, nil
}

// SaveAPIPerformance persists a performance profile with the profile expiry.
func (s *Store) SaveAPIPerformance(ctx context.Context, perf *APIPerformanceProfile) error {
	if perf == nil || perf.Route == "" {
		return errors.New("performance profile is nil or route is empty")
	}
	defer s.observe("save_api_perf", time.Now())

	data, err := json.Marshal(perf)
	if err != nil {
		return s.fail("save_api_perf", err)
	}
	if err := s.rdb.Set(ctx, KeyAPIPerfPrefix+perf.Route, data, ProfileTTL).Err(); err != nil {
		return s.fail("save_api_perf", err)
	}
	return nil
}

// ============================================================================
// 实时搜索缓存标记（预取跳过判断用）
// ============================================================================

// HasCachedSearch reports whether a live search result is currently cached.
func (s *Store) HasCachedSearch(ctx context.Context, route string) (bool, error) {
	defer s.observe("has_cached_search", time.Now())

	n, err := s.rdb.Exists(ctx, KeySearchCachePrefix+route).Result()
	if err != nil {
		return false, s.fail("has_cached_search", err)
	}
	return n > 0, nil
}

// MarkCachedSearch records that a search result was cached for ttl.
func (s *Store) MarkCachedSearch(ctx context.Context, route string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	defer s.observe("mark_cached_search", time.Now())

	if err := s.rdb.Set(ctx, KeySearchCachePrefix+route, time.Now().Unix(), ttl).Err(); err != nil {
		return s.fail("mark_cached_search", err)
	}
	return nil
}
