package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"farecache/internal/predictor"
	"farecache/internal/prefetch"
	"farecache/internal/profiler"
	"farecache/internal/selector"
	"farecache/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFetcher 只记录刷新调用，不触网
type countingFetcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *countingFetcher) Refresh(_ context.Context, _ string, c prefetch.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c.Route)
	return nil
}

func setupServer(t *testing.T, adminKey string) (*Server, *store.Store, *profiler.Profiler, *countingFetcher, func()) {
	t.Helper()

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st, err := store.New(rdb)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	profiles := profiler.New(st, log)
	ttl := predictor.New(profiles, log)
	calendar := predictor.NewCalendar(profiles, log)
	sel := selector.New(profiles, selector.Config{}, log)

	fetcher := &countingFetcher{}
	throttle := prefetch.NewFailureThrottle(rdb, log)
	prefetcher := prefetch.New(st, fetcher, nil, throttle, prefetch.Config{CallDelay: time.Millisecond}, log)

	srv := NewServer(st, profiles, ttl, calendar, sel, prefetcher, log, &Config{
		Addr:        ":0",
		AdminAPIKey: adminKey,
	})

	return srv, st, profiles, fetcher, func() {
		rdb.Close()
		s.Close()
	}
}

func doRequest(srv *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

// decodeData 解出统一响应里的 data 字段
func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Code, "unexpected business code: %s", resp.Message)
	return resp.Data
}

func TestHealthCheck(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	w := doRequest(srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestLogSearchEvent(t *testing.T) {
	srv, _, profiles, _, cleanup := setupServer(t, "")
	defer cleanup()

	w := doRequest(srv, http.MethodPost, "/api/v1/events/search", map[string]interface{}{
		"origin":        "jfk",
		"destination":   "lax",
		"departureDate": "2026-04-01",
		"lowestPrice":   289.0,
		"resultCount":   12,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, "JFK-LAX", data["route"])

	// 画像重算是异步的，等它落盘后再查
	profiles.Wait()

	w = doRequest(srv, http.MethodGet, "/api/v1/routes/JFK-LAX/profile", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	assert.Equal(t, "JFK-LAX", data["route"])
	assert.Equal(t, float64(1), data["searchesLast7Days"])
}

func TestLogSearchEvent_MissingFields(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	w := doRequest(srv, http.MethodPost, "/api/v1/events/search", map[string]interface{}{
		"origin": "JFK",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRouteProfile_BadRouteFormat(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	w := doRequest(srv, http.MethodGet, "/api/v1/routes/JFKLAX/profile", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRoutePerformance_NotFound(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	w := doRequest(srv, http.MethodGet, "/api/v1/routes/JFK-LAX/performance", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogComparisonEvent(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	amadeus := 280.0
	duffel := 295.0
	w := doRequest(srv, http.MethodPost, "/api/v1/events/comparison", map[string]interface{}{
		"origin":              "JFK",
		"destination":         "LAX",
		"amadeusPrice":        amadeus,
		"duffelPrice":         duffel,
		"amadeusResponseTime": 820.0,
		"duffelResponseTime":  640.0,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/v1/routes/JFK-LAX/performance", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["comparisons"])
}

func TestPredictTTL(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	// 缺出发日期
	w := doRequest(srv, http.MethodGet, "/api/v1/predict/ttl?origin=JFK&destination=LAX", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	departure := time.Now().AddDate(0, 0, 30).Format("2006-01-02")
	w = doRequest(srv, http.MethodGet, "/api/v1/predict/ttl?origin=JFK&destination=LAX&departureDate="+departure, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	ttl := data["recommendedTTL"].(float64)
	assert.GreaterOrEqual(t, ttl, 5.0)
	assert.LessOrEqual(t, ttl, 120.0)
	assert.Greater(t, data["confidence"].(float64), 0.0)
}

func TestPredictCalendar(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	// 不传出发日期，按 30 天后估算
	w := doRequest(srv, http.MethodGet, "/api/v1/predict/calendar?origin=JFK&destination=LAX", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	ttl := data["ttl"].(float64)
	assert.GreaterOrEqual(t, ttl, 1800.0)
	assert.LessOrEqual(t, ttl, 86400.0)
	assert.Equal(t, float64(30), data["daysUntilDeparture"])

	w = doRequest(srv, http.MethodGet, "/api/v1/predict/calendar?origin=JFK&destination=LAX&departureDate=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelectAPIs(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	w := doRequest(srv, http.MethodGet, "/api/v1/select?origin=JFK&destination=LAX", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 没有历史数据时无论是否命中采样都应该双调
	data := decodeData(t, w)
	assert.Equal(t, "both", data["strategy"])

	w = doRequest(srv, http.MethodGet, "/api/v1/select?origin=JFK&destination=LAX&departureDate=not-a-date", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPrefetchCandidates(t *testing.T) {
	srv, st, _, _, cleanup := setupServer(t, "")
	defer cleanup()

	profile := store.DefaultProfile("JFK", "LAX", time.Now())
	profile.Popularity = 80
	profile.SearchesLast7Days = 50
	profile.OptimalTTL = 60
	require.NoError(t, st.SaveProfile(context.Background(), profile))

	w := doRequest(srv, http.MethodGet, "/api/v1/prefetch/candidates?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["count"])

	w = doRequest(srv, http.MethodGet, "/api/v1/prefetch/candidates?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunPrefetch_RequiresAPIKey(t *testing.T) {
	srv, _, _, _, cleanup := setupServer(t, "secret")
	defer cleanup()

	w := doRequest(srv, http.MethodPost, "/api/v1/admin/prefetch/run", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodPost, "/api/v1/admin/prefetch/run", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRunPrefetch_Force(t *testing.T) {
	srv, st, _, fetcher, cleanup := setupServer(t, "secret")
	defer cleanup()

	profile := store.DefaultProfile("JFK", "LAX", time.Now())
	profile.Popularity = 80
	profile.SearchesLast7Days = 50
	profile.OptimalTTL = 60
	require.NoError(t, st.SaveProfile(context.Background(), profile))

	// force 绕过低峰窗口限制，测试不关心当前挂钟时间
	w := doRequest(srv, http.MethodPost, "/api/v1/admin/prefetch/run", map[string]interface{}{
		"force": true,
	}, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["fetched"])
	assert.Equal(t, []string{"JFK-LAX"}, fetcher.calls)
}
