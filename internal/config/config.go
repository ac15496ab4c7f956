package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置
type Config struct {
	App      AppConfig      `json:"app"`
	Redis    RedisConfig    `json:"redis"`
	MySQL    MySQLConfig    `json:"mysql"`
	Selector SelectorConfig `json:"selector"`
	Prefetch PrefetchConfig `json:"prefetch"`
	Archiver ArchiverConfig `json:"archiver"`
}

// AppConfig 应用程序基础配置
type AppConfig struct {
	Env         string `json:"env"`           // 运行环境: local / prod
	LogLevel    string `json:"log_level"`     // 日志级别: debug / info / warn / error
	HTTPAddr    string `json:"http_addr"`     // API 服务监听地址
	MetricsAddr string `json:"metrics_addr"`  // Prometheus 指标监听地址
	AdminAPIKey string `json:"admin_api_key"` // Admin API Key (空则不启用认证)
}

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	Addr         string        `json:"addr"`           // Redis 地址 (host:port)
	Password     string        `json:"password"`       // Redis 密码
	PoolSize     int           `json:"pool_size"`      // 连接池大小 (默认 10)
	MinIdleConns int           `json:"min_idle_conns"` // 最小空闲连接数 (默认 2)
	DialTimeout  time.Duration `json:"dial_timeout"`   // 连接超时 (默认 5s)
	ReadTimeout  time.Duration `json:"read_timeout"`   // 读取超时 (默认 3s)
	WriteTimeout time.Duration `json:"write_timeout"`  // 写入超时 (默认 3s)
}

// MySQLConfig MySQL 数据库配置。DSN 为空时归档功能整体关闭。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// SelectorConfig API 选择器配置
type SelectorConfig struct {
	SampleRate       float64  `json:"sample_rate"`       // A/B 采样率 (默认 0.10)
	CostPerCall      float64  `json:"cost_per_call"`     // Amadeus 单次调用成本 (默认 0.04 美元)
	DomesticAirports []string `json:"domestic_airports"` // 美国国内机场表 (空则用内置表)
}

// PrefetchConfig 预取器配置
type PrefetchConfig struct {
	Limit            int           `json:"limit"`               // 每轮候选上限 (默认 50)
	Interval         time.Duration `json:"interval"`            // 后台预取检查间隔 (默认 1h)
	CallDelay        time.Duration `json:"call_delay"`          // 刷新调用间隔 (默认 100ms)
	CostPerCall      float64       `json:"cost_per_call"`       // 单次调用成本 (默认 0.04 美元)
	OffPeakStartHour int           `json:"off_peak_start_hour"` // 低峰窗口开始 (默认 2)
	OffPeakEndHour   int           `json:"off_peak_end_hour"`   // 低峰窗口结束 (默认 6)
	RateLimitPerSec  int           `json:"rate_limit_per_sec"`  // 刷新限流速率 (0 = 不限流)
	RateLimitBurst   int           `json:"rate_limit_burst"`    // 限流桶容量
	RefreshURL       string        `json:"refresh_url"`         // 搜索网关刷新回调地址 (空则干跑)
}

// ArchiverConfig 每日归档配置
type ArchiverConfig struct {
	Interval time.Duration `json:"interval"` // 归档间隔 (默认 24h)
}

// Load 从 JSON 文件加载配置
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":8080",
			MetricsAddr: ":2112",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Password:     "",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		MySQL: MySQLConfig{
			DSN: "", // 默认不开归档
		},
		Selector: SelectorConfig{
			SampleRate:  0.10,
			CostPerCall: 0.04,
		},
		Prefetch: PrefetchConfig{
			Limit:            50,
			Interval:         time.Hour,
			CallDelay:        100 * time.Millisecond,
			CostPerCall:      0.04,
			OffPeakStartHour: 2,
			OffPeakEndHour:   6,
			RateLimitPerSec:  5,
			RateLimitBurst:   10,
		},
		Archiver: ArchiverConfig{
			Interval: 24 * time.Hour,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	// App
	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}

	// Redis
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = defaults.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = defaults.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = defaults.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = defaults.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = defaults.Redis.WriteTimeout
	}

	// Selector
	if cfg.Selector.SampleRate == 0 {
		cfg.Selector.SampleRate = defaults.Selector.SampleRate
	}
	if cfg.Selector.CostPerCall == 0 {
		cfg.Selector.CostPerCall = defaults.Selector.CostPerCall
	}
	// DomesticAirports 为空时由 selector 包用内置表兜底

	// Prefetch
	if cfg.Prefetch.Limit == 0 {
		cfg.Prefetch.Limit = defaults.Prefetch.Limit
	}
	if cfg.Prefetch.Interval == 0 {
		cfg.Prefetch.Interval = defaults.Prefetch.Interval
	}
	if cfg.Prefetch.CallDelay == 0 {
		cfg.Prefetch.CallDelay = defaults.Prefetch.CallDelay
	}
	if cfg.Prefetch.CostPerCall == 0 {
		cfg.Prefetch.CostPerCall = defaults.Prefetch.CostPerCall
	}
	if cfg.Prefetch.OffPeakStartHour == 0 && cfg.Prefetch.OffPeakEndHour == 0 {
		cfg.Prefetch.OffPeakStartHour = defaults.Prefetch.OffPeakStartHour
		cfg.Prefetch.OffPeakEndHour = defaults.Prefetch.OffPeakEndHour
	}
	// RateLimitPerSec 保持配置值，0 表示显式关闭限流

	// Archiver
	if cfg.Archiver.Interval == 0 {
		cfg.Archiver.Interval = defaults.Archiver.Interval
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	// App
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		cfg.App.AdminAPIKey = v
	}

	// Redis
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Redis.PoolSize = i
		}
	}
	if v := os.Getenv("REDIS_MIN_IDLE_CONNS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Redis.MinIdleConns = i
		}
	}
	if v := os.Getenv("REDIS_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.DialTimeout = d
		}
	}
	if v := os.Getenv("REDIS_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.ReadTimeout = d
		}
	}
	if v := os.Getenv("REDIS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.WriteTimeout = d
		}
	}

	// MySQL
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") {
		cfg.MySQL.DSN = buildMySQLDSN(cfg.MySQL.DSN)
	}

	// Selector
	if v := os.Getenv("SELECTOR_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Selector.SampleRate = f
		}
	}
	if v := os.Getenv("SELECTOR_COST_PER_CALL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Selector.CostPerCall = f
		}
	}
	if v := os.Getenv("SELECTOR_DOMESTIC_AIRPORTS"); v != "" {
		var codes []string
		for _, code := range strings.Split(v, ",") {
			if code = strings.TrimSpace(code); code != "" {
				codes = append(codes, code)
			}
		}
		if len(codes) > 0 {
			cfg.Selector.DomesticAirports = codes
		}
	}

	// Prefetch
	if v := os.Getenv("PREFETCH_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Prefetch.Limit = i
		}
	}
	if v := os.Getenv("PREFETCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Prefetch.Interval = d
		}
	}
	if v := os.Getenv("PREFETCH_CALL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Prefetch.CallDelay = d
		}
	}
	if v := os.Getenv("PREFETCH_OFF_PEAK_START_HOUR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Prefetch.OffPeakStartHour = i
		}
	}
	if v := os.Getenv("PREFETCH_OFF_PEAK_END_HOUR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Prefetch.OffPeakEndHour = i
		}
	}
	if v := os.Getenv("PREFETCH_RATE_LIMIT_PER_SEC"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Prefetch.RateLimitPerSec = i
		}
	}
	if v := os.Getenv("PREFETCH_RATE_LIMIT_BURST"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Prefetch.RateLimitBurst = i
		}
	}
	if v := os.Getenv("PREFETCH_REFRESH_URL"); v != "" {
		cfg.Prefetch.RefreshURL = v
	}

	// Archiver
	if v := os.Getenv("ARCHIVER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Archiver.Interval = d
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func buildMySQLDSN(fallbackDSN string) string {
	parsed, err := mysql.ParseDSN(fallbackDSN)
	if err != nil {
		parsed = &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "farecache",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		port := "3306"
		if p := os.Getenv("DB_PORT"); p != "" {
			port = p
		} else if strings.Contains(parsed.Addr, ":") {
			parts := strings.Split(parsed.Addr, ":")
			if len(parts) == 2 {
				port = parts[1]
			}
		}
		parsed.Addr = v + ":" + port
	}
	if v := os.Getenv("DB_USER"); v != "" {
		parsed.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		parsed.Passwd = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		parsed.DBName = v
	}

	return parsed.FormatDSN()
}

// ArchiverEnabled MySQL DSN 配置了才开归档。
func (c *Config) ArchiverEnabled() bool {
	return c.MySQL.DSN != ""
}
