package config

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	DB_DSN   string `mapstructure:"DB_DSN"`   // empty keeps bars in memory
	NatsURL  string `mapstructure:"NATS_URL"` // empty runs without a bus
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	CommissionRate float64 `mapstructure:"COMMISSION_RATE"`
	SpreadRate     float64 `mapstructure:"SPREAD_RATE"`
	SlippageRate   float64 `mapstructure:"SLIPPAGE_RATE"`
	DefaultCapital float64 `mapstructure:"DEFAULT_CAPITAL"`

	OptimizerWorkers        int `mapstructure:"OPTIMIZER_WORKERS"`
	OptimizerMaxRounds      int `mapstructure:"OPTIMIZER_MAX_ROUNDS"`
	OptimizerMaxEvaluations int `mapstructure:"OPTIMIZER_MAX_EVALUATIONS"`

	ABTestSweepSpec string `mapstructure:"ABTEST_SWEEP_SPEC"`
	DataRetries     uint64 `mapstructure:"DATA_RETRIES"`

	// APIRateLimit is compute requests per second; 0 disables throttling.
	APIRateLimit float64 `mapstructure:"API_RATE_LIMIT"`
	APIRateBurst int     `mapstructure:"API_RATE_BURST"`
}

// Capital is DefaultCapital as a decimal.
func (c Config) Capital() decimal.Decimal {
	return decimal.NewFromFloat(c.DefaultCapital)
}

// LoadConfig reads app.env from path (when present) and the environment.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv() // 自动读取环境变量

	v.SetDefault("PORT", "8080")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("COMMISSION_RATE", 0.001)
	v.SetDefault("SPREAD_RATE", 0.0)
	v.SetDefault("SLIPPAGE_RATE", 0.0005)
	v.SetDefault("DEFAULT_CAPITAL", 10000.0)
	v.SetDefault("OPTIMIZER_WORKERS", 4)
	v.SetDefault("OPTIMIZER_MAX_ROUNDS", 12)
	v.SetDefault("OPTIMIZER_MAX_EVALUATIONS", 200)
	v.SetDefault("ABTEST_SWEEP_SPEC", "@every 1m")
	v.SetDefault("DATA_RETRIES", 3)
	v.SetDefault("API_RATE_LIMIT", 20.0)
	v.SetDefault("API_RATE_BURST", 40)

	err = v.ReadInConfig()
	// If config file not found, we can still use env vars
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	}

	if err != nil {
		return Config{}, err
	}
	err = v.Unmarshal(&config)
	return
}
