// cmd/engine/main.go
// 自适应缓存与请求路由决策引擎 - 主入口
// 包含: API Server + 预取循环 + 每日归档
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farecache/internal/api"
	"farecache/internal/archiver"
	"farecache/internal/config"
	"farecache/internal/model"
	"farecache/internal/pkg/logger"
	"farecache/internal/pkg/metrics"
	"farecache/internal/pkg/ratelimit"
	"farecache/internal/predictor"
	"farecache/internal/prefetch"
	"farecache/internal/profiler"
	"farecache/internal/selector"
	"farecache/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 命令行参数
	configFile := flag.String("config", "", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := loadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 初始化日志
	slogger := logger.NewWithIdentity(logger.Config{Level: cfg.App.LogLevel})
	slog.SetDefault(slogger)

	slogger.Info("starting fare cache decision engine", slog.String("env", cfg.App.Env))

	// 初始化 Redis
	rdb, err := initRedis(cfg.Redis, slogger)
	if err != nil {
		slogger.Error("failed to connect Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slogger.Info("Redis connected", slog.String("addr", cfg.Redis.Addr))

	// 画像存储 + 画像器
	st, err := store.New(rdb)
	if err != nil {
		slogger.Error("failed to create profile store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	profiles := profiler.New(st, slogger)

	// 预测器与选择器
	ttl := predictor.New(profiles, slogger)
	calendar := predictor.NewCalendar(profiles, slogger)
	sel := selector.New(profiles, selector.Config{
		SampleRate:       cfg.Selector.SampleRate,
		CostPerCall:      cfg.Selector.CostPerCall,
		DomesticAirports: cfg.Selector.DomesticAirports,
	}, slogger)

	// 预取器。不配回调地址就干跑，只记日志不触网。
	var fetcher prefetch.Fetcher
	if cfg.Prefetch.RefreshURL != "" {
		fetcher = prefetch.NewWebhookFetcher(cfg.Prefetch.RefreshURL, 0, slogger)
		slogger.Info("prefetch refresh webhook configured", slog.String("url", cfg.Prefetch.RefreshURL))
	} else {
		fetcher = prefetch.NewNoopFetcher(slogger)
		slogger.Warn("no refresh webhook configured, prefetch runs in dry-run mode")
	}
	limiter := ratelimit.NewRedisRateLimiter(rdb)
	throttle := prefetch.NewFailureThrottle(rdb, slogger)
	prefetcher := prefetch.New(st, fetcher, limiter, throttle, prefetch.Config{
		Limit:            cfg.Prefetch.Limit,
		CallDelay:        cfg.Prefetch.CallDelay,
		CostPerCall:      cfg.Prefetch.CostPerCall,
		OffPeakStartHour: cfg.Prefetch.OffPeakStartHour,
		OffPeakEndHour:   cfg.Prefetch.OffPeakEndHour,
		RateLimitPerSec:  cfg.Prefetch.RateLimitPerSec,
		RateLimitBurst:   cfg.Prefetch.RateLimitBurst,
	}, slogger)

	// 归档器 (配了 MySQL DSN 才开)
	var arch *archiver.Archiver
	if cfg.ArchiverEnabled() {
		db, err := model.InitDB(&cfg.MySQL, slogger, model.DBOptions{
			MaxIdleConns:    5,
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			LogLevel:        "warn",
		})
		if err != nil {
			slogger.Error("failed to connect MySQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if os.Getenv("AUTO_MIGRATE") == "true" {
			if err := model.AutoMigrate(db); err != nil {
				slogger.Error("failed to migrate database", slog.String("error", err.Error()))
				os.Exit(1)
			}
			slogger.Info("database migrated")
		}
		arch = archiver.NewArchiver(db, st, slogger)
		slogger.Info("archiver initialized", slog.Duration("interval", cfg.Archiver.Interval))
	} else {
		slogger.Info("no MySQL DSN configured, daily archiving disabled")
	}

	// 初始化 API Server
	apiCfg := &api.Config{
		Addr:         cfg.App.HTTPAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Debug:        cfg.App.Env == "local",
		EnableCORS:   os.Getenv("ENABLE_CORS") == "true",
		AdminAPIKey:  cfg.App.AdminAPIKey,
	}
	server := api.NewServer(st, profiles, ttl, calendar, sel, prefetcher, slogger, apiCfg)
	slogger.Info("API server initialized", slog.String("addr", cfg.App.HTTPAddr))

	// 创建 context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动 API Server (在 goroutine 中)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			slogger.Error("API server error", slog.String("error", err.Error()))
		}
	}()

	// 启动 Metrics Server (Prometheus)
	metricsAddr := cfg.App.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":2112"
	}
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		slogger.Info("metrics server started", slog.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	metrics.ServiceUptime.Set(float64(time.Now().Unix()))

	// 预取循环。低峰窗口的判定在 Execute 内部，窗口外直接跳过。
	go runPrefetchLoop(ctx, prefetcher, cfg.Prefetch.Interval, slogger)

	// 归档循环
	if arch != nil {
		go runArchiveLoop(ctx, arch, cfg.Archiver.Interval, slogger)
	}

	slogger.Info("all services started, waiting for shutdown signal...")

	// 等待关闭信号
	<-ctx.Done()
	slogger.Info("shutdown signal received, stopping services...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("API server shutdown error", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slogger.Error("metrics server shutdown error", slog.String("error", err.Error()))
	}

	// 等后台画像重算落盘
	profiles.Wait()

	if err := rdb.Close(); err != nil {
		slogger.Error("Redis close error", slog.String("error", err.Error()))
	}

	slogger.Info("decision engine stopped")
}

// runPrefetchLoop 定期跑一轮预取
func runPrefetchLoop(ctx context.Context, p *prefetch.Prefetcher, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := p.Execute(ctx, 0, false, nil)
			if err != nil {
				log.Error("prefetch run failed", slog.String("error", err.Error()))
				continue
			}
			if result.Fetched > 0 || result.Errors > 0 {
				log.Info("prefetch run finished",
					slog.Int("fetched", result.Fetched),
					slog.Int("skipped", result.Skipped),
					slog.Int("errors", result.Errors),
					slog.Bool("aborted", result.Aborted),
					slog.Float64("estimated_savings", result.EstimatedSavings))
			}
		}
	}
}

// runArchiveLoop 定期快照画像并清理过期行
func runArchiveLoop(ctx context.Context, a *archiver.Archiver, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.RunDailyArchive(ctx); err != nil {
				log.Error("daily archive failed", slog.String("error", err.Error()))
			}
			if err := a.RunCleanup(ctx); err != nil {
				log.Error("stats cleanup failed", slog.String("error", err.Error()))
			}
		}
	}
}

// loadConfig 加载配置
func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	// 尝试默认路径
	for _, path := range []string{"configs/config.json", "config.json", "/etc/farecache/config.json"} {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	// 使用默认配置 (环境变量仍然生效)
	return config.Load("")
}

// initRedis 初始化 Redis 连接
func initRedis(cfg config.RedisConfig, log *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           0,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	log.Info("Redis client configured",
		slog.String("addr", cfg.Addr),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Int("min_idle_conns", cfg.MinIdleConns))

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}
