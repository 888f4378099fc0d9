package config

import (
	"log"
	"os"
	"time"

	"github.com/code-100-precent/TrunkEcho/pkg/cache"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/code-100-precent/TrunkEcho/pkg/utils"
)

// Config System CommonConfig
type Config struct {
	ServerName string `env:"SERVER_NAME"`
	ServerDesc string `env:"SERVER_DESC"`
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`

	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`

	Log logger.LogConfig

	APIPrefix     string `env:"API_PREFIX"`
	MonitorPrefix string `env:"MONITOR_PREFIX"`

	// 信令链路配置
	ConsoleID         string        `env:"CONSOLE_ID"`             // 本控制台在网络中的身份
	SwitchAddr        string        `env:"SWITCH_ADDR"`            // 交换机信令地址
	SwitchDialTimeout time.Duration `env:"SWITCH_DIAL_TIMEOUT_MS"` // 信令链路拨号超时

	// 呼叫核心配置
	AdmissionMaxCalls  int           `env:"ADMISSION_MAX_CALLS"`          // 非内部呼叫并发上限
	PTTDebounce        time.Duration `env:"PTT_DEBOUNCE_MS"`              // PTT 按键去抖时间
	SetupTimeout       time.Duration `env:"SETUP_TIMEOUT_MS"`             // 建立呼叫等待网络应答超时
	HookSetupTimeout   time.Duration `env:"HOOK_SETUP_TIMEOUT_MS"`        // 摘挂机信令往返的长超时
	PriorityPreempt    int           `env:"PRIORITY_PREEMPT_THRESHOLD"`   // 可抢占层起始优先级
	PriorityEmergency  int           `env:"PRIORITY_EMERGENCY_THRESHOLD"` // 紧急层起始优先级
	DefaultPriority    int           `env:"DEFAULT_PRIORITY"`             // 未指定时使用的呼叫优先级
	AutoJoinGroup      bool          `env:"AUTO_JOIN_GROUP"`              // 群组/广播接通后自动加入
	ReleaseFenceWindow time.Duration `env:"RELEASE_FENCE_WINDOW_MS"`      // 重复/迟到 RELEASE 去重窗口

	// 通话记录保留配置
	HistoryRetentionDays   int    `env:"HISTORY_RETENTION_DAYS"`
	HistoryCleanupSchedule string `env:"HISTORY_CLEANUP_SCHEDULE"`

	// RTP 配置
	RTPAddr    string `env:"RTP_ADDR"`
	RTPPortMin int    `env:"RTP_PORT_MIN"`
	RTPPortMax int    `env:"RTP_PORT_MAX"`

	// 附件存储目录
	AttachmentDir string `env:"ATTACHMENT_DIR"`

	// 缓存配置
	Cache cache.Config
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件（如果不存在也不报错，使用默认值）
	env := os.Getenv("APP_ENV")
	if err := utils.LoadEnv(env); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	// 2. 加载全局配置（所有配置都有默认值，确保无.env文件也能启动）
	GlobalConfig = &Config{
		ServerName: getStringOrDefault("SERVER_NAME", "TrunkEcho"),
		ServerDesc: getStringOrDefault("SERVER_DESC", "trunked radio dispatcher console"),
		Addr:       getStringOrDefault("ADDR", ":7078"),
		Mode:       getStringOrDefault("MODE", "development"),
		DBDriver:   getStringOrDefault("DB_DRIVER", "sqlite"),
		DSN:        getStringOrDefault("DSN", "./trunk.db"),
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/app.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		APIPrefix:     getStringOrDefault("API_PREFIX", "/api"),
		MonitorPrefix: getStringOrDefault("MONITOR_PREFIX", "/metrics"),

		ConsoleID:         getStringOrDefault("CONSOLE_ID", "console-1"),
		SwitchAddr:        getStringOrDefault("SWITCH_ADDR", "127.0.0.1:7740"),
		SwitchDialTimeout: getMillisOrDefault("SWITCH_DIAL_TIMEOUT_MS", 5*time.Second),

		AdmissionMaxCalls:  getIntOrDefault("ADMISSION_MAX_CALLS", 3),
		PTTDebounce:        getMillisOrDefault("PTT_DEBOUNCE_MS", 150*time.Millisecond),
		SetupTimeout:       getMillisOrDefault("SETUP_TIMEOUT_MS", 5*time.Second),
		HookSetupTimeout:   getMillisOrDefault("HOOK_SETUP_TIMEOUT_MS", 30*time.Second),
		PriorityPreempt:    getIntOrDefault("PRIORITY_PREEMPT_THRESHOLD", 11),
		PriorityEmergency:  getIntOrDefault("PRIORITY_EMERGENCY_THRESHOLD", 15),
		DefaultPriority:    getIntOrDefault("DEFAULT_PRIORITY", 5),
		AutoJoinGroup:      getBoolOrDefault("AUTO_JOIN_GROUP", true),
		ReleaseFenceWindow: getMillisOrDefault("RELEASE_FENCE_WINDOW_MS", 10*time.Second),

		HistoryRetentionDays:   getIntOrDefault("HISTORY_RETENTION_DAYS", 90),
		HistoryCleanupSchedule: getStringOrDefault("HISTORY_CLEANUP_SCHEDULE", "0 3 * * *"),

		RTPAddr:    getStringOrDefault("RTP_ADDR", "127.0.0.1"),
		RTPPortMin: getIntOrDefault("RTP_PORT_MIN", 40000),
		RTPPortMax: getIntOrDefault("RTP_PORT_MAX", 40999),

		AttachmentDir: getStringOrDefault("ATTACHMENT_DIR", "./attachments"),

		Cache: loadCacheConfig(),
	}
	return nil
}

// getStringOrDefault 获取环境变量值，如果为空则返回默认值
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault 获取布尔环境变量值，如果为空则返回默认值
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault 获取整数环境变量值，如果为空则返回默认值
func getIntOrDefault(key string, defaultValue int) int {
	value := utils.GetIntEnv(key)
	if value == 0 {
		return defaultValue
	}
	return int(value)
}

// getMillisOrDefault 获取毫秒数环境变量值
func getMillisOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := utils.GetIntEnv(key)
	if value == 0 {
		return defaultValue
	}
	return time.Duration(value) * time.Millisecond
}

// loadCacheConfig 加载缓存配置，设置所有默认值
func loadCacheConfig() cache.Config {
	cacheType := utils.GetEnv("CACHE_TYPE")
	if cacheType == "" {
		cacheType = "local"
	}

	parseDuration := func(s string, defaultVal time.Duration) time.Duration {
		if s == "" {
			return defaultVal
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return defaultVal
		}
		return d
	}

	redisAddr := utils.GetEnv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisPoolSize := int(utils.GetIntEnv("REDIS_POOL_SIZE"))
	if redisPoolSize == 0 {
		redisPoolSize = 10
	}

	redisMinIdleConns := int(utils.GetIntEnv("REDIS_MIN_IDLE_CONNS"))
	if redisMinIdleConns == 0 {
		redisMinIdleConns = 5
	}

	localMaxSize := int(utils.GetIntEnv("LOCAL_CACHE_MAX_SIZE"))
	if localMaxSize == 0 {
		localMaxSize = 1000
	}

	return cache.Config{
		Type: cacheType,
		Redis: cache.RedisConfig{
			Addr:         redisAddr,
			Password:     utils.GetEnv("REDIS_PASSWORD"),
			DB:           int(utils.GetIntEnv("REDIS_DB")),
			PoolSize:     redisPoolSize,
			MinIdleConns: redisMinIdleConns,
			DialTimeout:  parseDuration(utils.GetEnv("REDIS_DIAL_TIMEOUT"), 5*time.Second),
			ReadTimeout:  parseDuration(utils.GetEnv("REDIS_READ_TIMEOUT"), 3*time.Second),
			WriteTimeout: parseDuration(utils.GetEnv("REDIS_WRITE_TIMEOUT"), 3*time.Second),
			IdleTimeout:  parseDuration(utils.GetEnv("REDIS_IDLE_TIMEOUT"), 5*time.Minute),
		},
		Local: cache.LocalConfig{
			MaxSize:           localMaxSize,
			DefaultExpiration: parseDuration(utils.GetEnv("LOCAL_CACHE_DEFAULT_EXPIRATION"), 5*time.Minute),
			CleanupInterval:   parseDuration(utils.GetEnv("LOCAL_CACHE_CLEANUP_INTERVAL"), 10*time.Minute),
		},
	}
}
