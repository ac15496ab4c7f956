package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	consecutiveFailureKey = "farecache:prefetch:consecutive_failures"
	consecutiveFailureTTL = 10 * time.Minute

	// failureAbortThreshold 连续失败达到此值就放弃本轮剩余批次。
	// 上游大概率整体出问题了，继续打只会烧钱
	failureAbortThreshold = 3
)

// FailureThrottle 连续失败计数器。
// 计数同步到 Redis，多实例看到的是同一个失败序列。
type FailureThrottle struct {
	rdb    *redis.Client
	logger *slog.Logger

	consecutiveFailures atomic.Int32
	mu                  sync.Mutex
}

// NewFailureThrottle 创建失败节流器。rdb 可为 nil（仅本地计数）。
func NewFailureThrottle(rdb *redis.Client, logger *slog.Logger) *FailureThrottle {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureThrottle{rdb: rdb, logger: logger}
}

// RecordFailure 记录一次刷新失败，返回是否应放弃本轮剩余批次。
func (ft *FailureThrottle) RecordFailure(ctx context.Context, taskID string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	count := ft.consecutiveFailures.Add(1)

	// 同步到 Redis，多实例协调
	if ft.rdb != nil {
		redisCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		pipe := ft.rdb.Pipeline()
		incr := pipe.Incr(redisCtx, consecutiveFailureKey)
		pipe.Expire(redisCtx, consecutiveFailureKey, consecutiveFailureTTL)
		if _, err := pipe.Exec(redisCtx); err == nil {
			if redisCount := incr.Val(); redisCount > int64(count) {
				count = int32(redisCount)
			}
		}
	}

	ft.logger.Warn("prefetch refresh failed",
		slog.String("task_id", taskID),
		slog.Int("consecutive_failures", int(count)))

	return count >= failureAbortThreshold
}

// RecordSuccess 记录一次成功，重置计数。
func (ft *FailureThrottle) RecordSuccess(ctx context.Context) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	oldCount := ft.consecutiveFailures.Swap(0)

	if ft.rdb != nil && oldCount > 0 {
		redisCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = ft.rdb.Del(redisCtx, consecutiveFailureKey)
	}
}

// ConsecutiveFailures 当前连续失败次数。
func (ft *FailureThrottle) ConsecutiveFailures() int {
	return int(ft.consecutiveFailures.Load())
}
