package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"strategy_runtime/internal/models"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs"
	defaultConfigFile = "values_local.yaml"
)

const (
	BusMemory = "memory"
	BusRedis  = "redis"

	StorePostgres = "postgres"
	StoreMemory   = "memory"

	SourceOKX  = "okx"
	SourceNone = "none"
)

type Config struct {
	Service struct {
		Host     string `yaml:"host"`
		HTTPPort int    `yaml:"http_port"`
		Name     string `yaml:"name"`
	} `yaml:"service"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	DB           string `yaml:"db_dsn"`
	DBMaxConns   int32  `yaml:"db_max_conns"`
	DBMigrations bool   `yaml:"db_migrations"` // apply migrations/*.sql at startup

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Bus struct {
		Backend     string        `yaml:"backend"`
		GroupPrefix string        `yaml:"group_prefix"`
		MaxLen      int64         `yaml:"max_len"`
		Block       time.Duration `yaml:"block"`
		ClaimIdle   time.Duration `yaml:"claim_idle"`
		MaxPending  int           `yaml:"max_pending"` // in-process backend only, 0 = unbounded
	} `yaml:"bus"`

	MarketData struct {
		Source     string              `yaml:"source"`
		Pairs      []models.MarketPair `yaml:"pairs"`
		FastPeriod int                 `yaml:"fast_period"`
		SlowPeriod int                 `yaml:"slow_period"`
		ATRPeriod  int                 `yaml:"atr_period"`
		WarmupBars int                 `yaml:"warmup_bars"`
	} `yaml:"market_data"`

	OKX struct {
		RestURL    string `yaml:"rest_url"`
		WSURL      string `yaml:"ws_url"`
		APIKey     string `yaml:"api_key"`
		APISecret  string `yaml:"api_secret"`
		Passphrase string `yaml:"passphrase"`
		Simulated  bool   `yaml:"simulated"`
	} `yaml:"okx"`

	Telegram struct {
		Token         string             `yaml:"token"`
		ServiceChatID int64              `yaml:"service_chat_id"`
		ChatIDs       map[string][]int64 `yaml:"chat_ids"` // user_id -> chats
	} `yaml:"telegram"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	Store struct {
		Backend string `yaml:"backend"`
	} `yaml:"store"`

	Risk struct {
		MaxNotional float64 `yaml:"max_notional"`
		MaxLeverage float64 `yaml:"max_leverage"`
		ReduceOnly  bool    `yaml:"reduce_only"`
	} `yaml:"risk"`

	Paper struct {
		Equity float64 `yaml:"equity"`
	} `yaml:"paper"`

	// Tenants maps user id -> connector name -> credentials. Tenants without
	// an entry trade on paper connectors.
	Tenants map[string]map[string]map[string]string `yaml:"tenants"`
}

func defaults() Config {
	var c Config
	c.Service.Host = "0.0.0.0"
	c.Service.HTTPPort = 8080
	c.Service.Name = "strategy-runtime"
	c.Log.Level = "info"

	c.Redis.Addr = "localhost:6379"

	c.Bus.Backend = BusMemory
	c.Bus.GroupPrefix = "bus"
	c.Bus.MaxLen = 10000
	c.Bus.Block = time.Second
	c.Bus.ClaimIdle = 30 * time.Second

	c.MarketData.Source = SourceOKX
	c.MarketData.FastPeriod = 12
	c.MarketData.SlowPeriod = 26
	c.MarketData.ATRPeriod = models.DefaultATRPeriod
	c.MarketData.WarmupBars = 100

	c.OKX.RestURL = "https://www.okx.com"
	c.OKX.WSURL = "wss://ws.okx.com:8443/ws/v5/business"

	c.Tracing.Host = "localhost"
	c.Tracing.Port = 6831

	c.Store.Backend = StorePostgres
	c.Paper.Equity = 10000
	return c
}

// NewConfig reads configs/$CONFIG_FILE (values_local.yaml by default).
func NewConfig() (*Config, error) {
	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = defaultConfigFile
	}
	return Load(filepath.Join(configDir, name))
}

// Load decodes the yaml file over the defaults, then applies env overrides.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	config := defaults()
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	applyEnv(&config, envSource())
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func envSource() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv overrides the secrets and deployment knobs: DB_DSN, REDIS_ADDR,
// BUS_BACKEND, TELEGRAM_TOKEN, ...
func applyEnv(c *Config, v *viper.Viper) {
	setString := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}

	setString("log.level", &c.Log.Level)
	setString("db_dsn", &c.DB)
	setString("database_dsn", &c.DB)
	setString("redis.addr", &c.Redis.Addr)
	setString("redis.password", &c.Redis.Password)
	setString("bus.backend", &c.Bus.Backend)
	setString("bus.group_prefix", &c.Bus.GroupPrefix)
	setString("market_data.source", &c.MarketData.Source)
	setString("store.backend", &c.Store.Backend)
	setString("telegram.token", &c.Telegram.Token)
	setString("okx.api_key", &c.OKX.APIKey)
	setString("okx.api_secret", &c.OKX.APISecret)
	setString("okx.passphrase", &c.OKX.Passphrase)

	if v.IsSet("redis.db") {
		c.Redis.DB = v.GetInt("redis.db")
	}
	if v.IsSet("service.http_port") {
		c.Service.HTTPPort = v.GetInt("service.http_port")
	}
	if v.IsSet("tracing.enabled") {
		c.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
}

func (c *Config) validate() error {
	switch c.Bus.Backend {
	case BusMemory, BusRedis:
	default:
		return fmt.Errorf("unknown bus backend %q", c.Bus.Backend)
	}
	switch c.Store.Backend {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.MarketData.Source {
	case SourceOKX, SourceNone:
	default:
		return fmt.Errorf("unknown market data source %q", c.MarketData.Source)
	}
	if c.Store.Backend == StorePostgres && c.DB == "" {
		return fmt.Errorf("db_dsn is required for the postgres store")
	}
	for _, p := range c.MarketData.Pairs {
		if p.Symbol == "" || p.Timeframe == "" {
			return fmt.Errorf("market_data pair needs symbol and timeframe: %+v", p)
		}
	}
	return nil
}

// HTTPAddr is the listen address of the health/API server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.HTTPPort)
}
