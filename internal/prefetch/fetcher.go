// internal/prefetch/fetcher.go
// 刷新回调实现。引擎本身不调报价 API，预取时回调搜索网关让它去刷。
package prefetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 30 * time.Second

// refreshPayload 发给搜索网关的刷新请求体
type refreshPayload struct {
	TaskID      string `json:"taskId"`
	Route       string `json:"route"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	TTLMinutes  int    `json:"ttlMinutes"`
}

// WebhookFetcher 通过 HTTP 回调搜索网关触发一次真实搜索刷新
type WebhookFetcher struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookFetcher 创建回调刷新器。timeout 为 0 时取默认 30s。
func NewWebhookFetcher(url string, timeout time.Duration, logger *slog.Logger) *WebhookFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookFetcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Refresh 回调网关刷新一条航线，非 2xx 视为失败
func (f *WebhookFetcher) Refresh(ctx context.Context, taskID string, c Candidate) error {
	payload, err := json.Marshal(refreshPayload{
		TaskID:      taskID,
		Route:       c.Route,
		Origin:      c.Origin,
		Destination: c.Destination,
		TTLMinutes:  c.OptimalTTL,
	})
	if err != nil {
		return fmt.Errorf("marshal refresh payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", c.Route, err)
	}
	defer resp.Body.Close()
	// 读完响应体让连接可复用
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("refresh %s: gateway returned %d", c.Route, resp.StatusCode)
	}

	f.logger.Debug("route refreshed via webhook",
		slog.String("task_id", taskID),
		slog.String("route", c.Route))
	return nil
}

// NoopFetcher 不配置回调地址时的占位实现，只记日志。
// 预取循环照常跑（包括缓存标记和优先级统计），方便灰度观察候选质量。
type NoopFetcher struct {
	logger *slog.Logger
}

// NewNoopFetcher 创建占位刷新器
func NewNoopFetcher(logger *slog.Logger) *NoopFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopFetcher{logger: logger}
}

// Refresh 只记录，不触网
func (f *NoopFetcher) Refresh(_ context.Context, taskID string, c Candidate) error {
	f.logger.Info("dry-run refresh",
		slog.String("task_id", taskID),
		slog.String("route", c.Route),
		slog.Float64("priority", c.Priority))
	return nil
}
