package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Providers ProvidersConfig `mapstructure:"providers"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Price     PriceConfig     `mapstructure:"price"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Rpc       RpcConfig       `mapstructure:"rpc"`
	Curve     CurveConfig     `mapstructure:"curve"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
}

// ProviderConfig describes one upstream REST price/listing provider.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`
}

type ProvidersConfig struct {
	DexScreener   ProviderConfig `mapstructure:"dexscreener"`
	Jupiter       ProviderConfig `mapstructure:"jupiter"`
	GeckoTerminal ProviderConfig `mapstructure:"geckoterminal"`
	Birdeye       ProviderConfig `mapstructure:"birdeye"`
}

type StreamConfig struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

type PriceConfig struct {
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	ProviderTimeout    time.Duration `mapstructure:"provider_timeout"`
	AgreeTolerance     float64       `mapstructure:"agree_tolerance"`
	AgreeConfidence    float64       `mapstructure:"agree_confidence"`
	DisagreeConfidence float64       `mapstructure:"disagree_confidence"`
	DegradedAfterFails uint32        `mapstructure:"degraded_after_fails"`
}

type FeedConfig struct {
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	EvictAfterCycles int           `mapstructure:"evict_after_cycles"`
	DefaultLimit     int           `mapstructure:"default_limit"`
	MaxLimit         int           `mapstructure:"max_limit"`
}

type RpcConfig struct {
	Endpoints         []string `mapstructure:"endpoints"`
	RotateAfter       int      `mapstructure:"rotate_after"`
	RequestsPerSecond int      `mapstructure:"requests_per_second"`
}

// CurveConfig holds bonding-curve derivation parameters.
type CurveConfig struct {
	MigrationThresholdSol float64 `mapstructure:"migration_threshold_sol"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml, overrides with environment variables, and
// fills defaults so a provider left out of the file is simply disabled
// rather than half-configured.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., STREAM_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stream.url", "wss://pumpportal.fun/api/data")
	v.SetDefault("stream.handshake_timeout", "5s")
	v.SetDefault("stream.backoff_initial", "1s")
	v.SetDefault("stream.backoff_max", "30s")

	v.SetDefault("price.cache_ttl", "4s")
	v.SetDefault("price.provider_timeout", "2500ms")
	v.SetDefault("price.agree_tolerance", 0.02)
	v.SetDefault("price.agree_confidence", 0.95)
	v.SetDefault("price.disagree_confidence", 0.5)
	v.SetDefault("price.degraded_after_fails", 3)

	v.SetDefault("feed.refresh_interval", "15s")
	v.SetDefault("feed.evict_after_cycles", 3)
	v.SetDefault("feed.default_limit", 50)
	v.SetDefault("feed.max_limit", 200)

	v.SetDefault("rpc.endpoints", []string{"https://api.mainnet-beta.solana.com"})
	v.SetDefault("rpc.rotate_after", 3)
	v.SetDefault("rpc.requests_per_second", 10)

	v.SetDefault("curve.migration_threshold_sol", 85.0)

	v.SetDefault("metrics.listen_addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "prod")
}
