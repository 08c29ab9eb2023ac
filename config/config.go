package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerCfg struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type APICfg struct {
	BaseURL            string        `mapstructure:"base_url"`
	Token              string        `mapstructure:"token"`
	StreamURL          string        `mapstructure:"stream_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	Burst              int           `mapstructure:"burst"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

type UserCfg struct {
	Id   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type PollingCfg struct {
	Messages  time.Duration `mapstructure:"messages"`
	Typing    time.Duration `mapstructure:"typing"`
	Status    time.Duration `mapstructure:"status"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	List      time.Duration `mapstructure:"list"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type CacheCfg struct {
	// Backend is "memory", "redis" or "none".
	Backend string   `mapstructure:"backend"`
	Redis   RedisCfg `mapstructure:"redis"`
}

type AuthCfg struct {
	Token           string `mapstructure:"token"`
	Firebase        bool   `mapstructure:"firebase"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type LogCfg struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Config struct {
	Server  ServerCfg  `mapstructure:"server"`
	API     APICfg     `mapstructure:"api"`
	User    UserCfg    `mapstructure:"user"`
	Polling PollingCfg `mapstructure:"polling"`
	Cache   CacheCfg   `mapstructure:"cache"`
	Auth    AuthCfg    `mapstructure:"auth"`
	Log     LogCfg     `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8090")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("api.base_url", "http://localhost:5000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.stream_url", "")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.requests_per_second", 20.0)
	v.SetDefault("api.burst", 10)
	v.SetDefault("api.breaker_max_failures", 5)
	v.SetDefault("api.breaker_timeout", 30*time.Second)

	v.SetDefault("user.id", "")
	v.SetDefault("user.name", "")

	v.SetDefault("polling.messages", 3*time.Second)
	v.SetDefault("polling.typing", 500*time.Millisecond)
	v.SetDefault("polling.status", 10*time.Second)
	v.SetDefault("polling.heartbeat", 30*time.Second)
	v.SetDefault("polling.list", 15*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "volunteer-chat")

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.firebase", false)
	v.SetDefault("auth.credentials_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads path when it is set, then applies CHAT_* environment overrides,
// e.g. CHAT_API_BASE_URL or CHAT_POLLING_MESSAGES=5s.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.User.Id == "" {
		return errors.New("user.id is required (CHAT_USER_ID)")
	}
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required (CHAT_API_BASE_URL)")
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	for name, d := range map[string]time.Duration{
		"polling.messages":  c.Polling.Messages,
		"polling.typing":    c.Polling.Typing,
		"polling.status":    c.Polling.Status,
		"polling.heartbeat": c.Polling.Heartbeat,
		"polling.list":      c.Polling.List,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
