package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"account-rotator/core"
)

const appDir = "account-rotator"

type Config struct {
	Store   StoreConfig   `toml:"store"`
	Lock    LockConfig    `toml:"lock"`
	Log     LogConfig     `toml:"log"`
	Journal JournalConfig `toml:"journal"`
	Server  ServerConfig  `toml:"server"`
	Refresh RefreshConfig `toml:"refresh"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type LockConfig struct {
	StaleAfterMs int `toml:"stale_after_ms"`
	Retries      int `toml:"retries"`
	RetryMinMs   int `toml:"retry_min_ms"`
	RetryMaxMs   int `toml:"retry_max_ms"`
}

type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"` // text | json
	File      string `toml:"file"`   // 为空时输出到 stderr
	MaxSizeMB int    `toml:"max_size_mb"`
}

type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Keep    int    `toml:"keep"`
}

type ServerConfig struct {
	Addr       string  `toml:"addr"`
	AdminToken string  `toml:"admin_token"`
	RateLimit  float64 `toml:"rate_limit"` // 每秒请求数 (按 IP)
	Burst      int     `toml:"burst"`
}

type RefreshConfig struct {
	IntervalMinutes int `toml:"interval_minutes"` // 0 表示 serve 时不做定时恢复
}

// Dir 每个用户的配置目录
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, appDir)
}

func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

func DefaultConfig() Config {
	lock := core.DefaultLockOptions()
	return Config{
		Store: StoreConfig{
			Path: filepath.Join(Dir(), "accounts.json"),
		},
		Lock: LockConfig{
			StaleAfterMs: int(lock.StaleAfter / time.Millisecond),
			Retries:      lock.Retries,
			RetryMinMs:   int(lock.RetryMinWait / time.Millisecond),
			RetryMaxMs:   int(lock.RetryMaxWait / time.Millisecond),
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			MaxSizeMB: 10,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(Dir(), "journal.db"),
			Keep:    1000,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8787",
			RateLimit: 10,
			Burst:     20,
		},
		Refresh: RefreshConfig{
			IntervalMinutes: 5,
		},
	}
}

// Load 读取配置文件；文件不存在时返回默认配置
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Lock.StaleAfterMs <= 0 {
		return fmt.Errorf("lock.stale_after_ms must be > 0, got %d", c.Lock.StaleAfterMs)
	}
	if c.Lock.Retries < 0 {
		return fmt.Errorf("lock.retries must be >= 0, got %d", c.Lock.Retries)
	}
	if c.Lock.RetryMinMs <= 0 || c.Lock.RetryMaxMs < c.Lock.RetryMinMs {
		return fmt.Errorf("lock retry window invalid: min %dms, max %dms", c.Lock.RetryMinMs, c.Lock.RetryMaxMs)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path must be set when the journal is enabled")
	}
	if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
		return fmt.Errorf("server rate limit must be >= 0")
	}
	if c.Refresh.IntervalMinutes < 0 {
		return fmt.Errorf("refresh.interval_minutes must be >= 0")
	}
	return nil
}

// LockOptions 转换为存储层的锁参数
func (c Config) LockOptions() core.LockOptions {
	return core.LockOptions{
		StaleAfter:   time.Duration(c.Lock.StaleAfterMs) * time.Millisecond,
		Retries:      c.Lock.Retries,
		RetryMinWait: time.Duration(c.Lock.RetryMinMs) * time.Millisecond,
		RetryMaxWait: time.Duration(c.Lock.RetryMaxMs) * time.Millisecond,
	}
}
