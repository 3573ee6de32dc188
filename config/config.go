package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ingest job, the price updater and the API
type Config struct {
	Project     ProjectConfig
	Credentials CredentialsConfig
	Storage     StorageConfig
	Warehouse   WarehouseConfig
	Data        DataConfig
	Prices      PricesConfig
	PubSub      PubSubConfig `mapstructure:"pubsub"`
	Firestore   FirestoreConfig
	Server      ServerConfig
	Scheduler   SchedulerConfig
}

type ProjectConfig struct {
	ID string `mapstructure:"id"`
}

type CredentialsConfig struct {
	Path string `mapstructure:"path"`
}

type StorageConfig struct {
	Bucket      string `mapstructure:"bucket"`
	RawPrefix   string `mapstructure:"raw_prefix"`
	PricePrefix string `mapstructure:"price_prefix"`
}

type WarehouseConfig struct {
	Dataset  string `mapstructure:"dataset"`
	Table    string `mapstructure:"table"`
	Location string `mapstructure:"location"`
}

type DataConfig struct {
	Path string `mapstructure:"path"`
}

type PricesConfig struct {
	APIURL       string            `mapstructure:"api_url"`
	APIKey       string            `mapstructure:"api_key"`
	RateInterval time.Duration     `mapstructure:"rate_interval"`
	MaxRetries   int               `mapstructure:"max_retries"`
	CoinIDs      map[string]string `mapstructure:"coin_ids"`
	Stablecoins  []string          `mapstructure:"stablecoins"`
	Decimals     map[string]int32  `mapstructure:"decimals"`
}

type PubSubConfig struct {
	Topic string `mapstructure:"topic"`
}

type FirestoreConfig struct {
	Collection string `mapstructure:"collection"`
}

type ServerConfig struct {
	Port     int           `mapstructure:"port"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// JobTimeout bounds /collect and /prices/update, they keep going when the client disconnects
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

type SchedulerConfig struct {
	Spec string `mapstructure:"spec"`
}

// Load reads configuration from the given file (or config/config.yaml when empty)
// and the environment. Env vars use the MARKETPLACE_ prefix, eg: MARKETPLACE_PROJECT_ID.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MARKETPLACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// AutomaticEnv only sees keys viper already knows about
	v.SetDefault("project.id", "")
	v.SetDefault("credentials.path", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.raw_prefix", "raw/")
	v.SetDefault("storage.price_prefix", "prices/")

	v.SetDefault("warehouse.dataset", "marketplace_analytics")
	v.SetDefault("warehouse.table", "daily_metrics")
	v.SetDefault("warehouse.location", "US")

	v.SetDefault("data.path", "data/sample_data.csv")

	v.SetDefault("prices.api_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("prices.api_key", "")
	v.SetDefault("prices.rate_interval", 1200*time.Millisecond)
	v.SetDefault("prices.max_retries", 3)
	v.SetDefault("prices.coin_ids", map[string]string{
		"MATIC": "matic-network",
		"SFL":   "sunflower-land",
	})
	v.SetDefault("prices.stablecoins", []string{"USDC", "USDC.E"})
	v.SetDefault("prices.decimals", map[string]int32{"MATIC": 18})

	v.SetDefault("pubsub.topic", "daily-metrics-loaded")
	v.SetDefault("firestore.collection", "timestamps")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_ttl", time.Minute)
	v.SetDefault("server.job_timeout", 30*time.Minute)

	v.SetDefault("scheduler.spec", "0 1 * * *")
}

// normalize fills derived defaults and upper cases currency symbols.
// viper lower cases map keys, symbols are matched upper case everywhere else.
func (c *Config) normalize() {
	if c.Storage.Bucket == "" && c.Project.ID != "" {
		c.Storage.Bucket = c.Project.ID + "-bucket"
	}
	coinIDs := make(map[string]string, len(c.Prices.CoinIDs))
	for k, v := range c.Prices.CoinIDs {
		coinIDs[strings.ToUpper(k)] = v
	}
	c.Prices.CoinIDs = coinIDs
	decimals := make(map[string]int32, len(c.Prices.Decimals))
	for k, v := range c.Prices.Decimals {
		decimals[strings.ToUpper(k)] = v
	}
	c.Prices.Decimals = decimals
	for i, s := range c.Prices.Stablecoins {
		c.Prices.Stablecoins[i] = strings.ToUpper(s)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("project.id is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Warehouse.Dataset == "" {
		return fmt.Errorf("warehouse.dataset is required")
	}
	if c.Warehouse.Table == "" {
		return fmt.Errorf("warehouse.table is required")
	}
	if c.Prices.RateInterval < 0 {
		return fmt.Errorf("prices.rate_interval must not be negative")
	}
	return nil
}

// TableID returns the dataset qualified table name
func (c *WarehouseConfig) TableID() string {
	return c.Dataset + "." + c.Table
}
