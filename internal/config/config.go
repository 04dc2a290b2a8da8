package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries process configuration. Values come from environment
// variables, optionally seeded from an app.env file in the working directory.
type Config struct {
	Env            string        `mapstructure:"ENVIRONMENT"`
	Port           string        `mapstructure:"SERVER_PORT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DBSource       string        `mapstructure:"DB_SOURCE"`
	MigrationsPath string        `mapstructure:"MIGRATIONS_PATH"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DBConnTimeout  time.Duration `mapstructure:"DB_CONNECT_TIMEOUT"`
	DBConnLifetime time.Duration `mapstructure:"DB_CONN_LIFETIME"`
	DBConnIdleTime time.Duration `mapstructure:"DB_CONN_IDLE_TIME"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_SOURCE", "")
	v.SetDefault("MIGRATIONS_PATH", "db/migrations")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_CONNECT_TIMEOUT", 5*time.Second)
	v.SetDefault("DB_CONN_LIFETIME", 30*time.Minute)
	v.SetDefault("DB_CONN_IDLE_TIME", 5*time.Minute)
	v.SetDefault("REQUEST_TIMEOUT", 10*time.Second)

	v.AutomaticEnv()

	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName("app")
		v.SetConfigType("env")
		// The env file is optional; environment variables alone are enough.
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE is required")
	}
	return &cfg, nil
}
