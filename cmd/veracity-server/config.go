package main

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/veracity-ops/veracity/internal/api/http"
	"github.com/veracity-ops/veracity/internal/auth"
	"github.com/veracity-ops/veracity/internal/db"
	"github.com/veracity-ops/veracity/internal/notify"
	"github.com/veracity-ops/veracity/internal/salt"
)

type Config struct {
	Log    LogConfig
	Http   http.Config
	DB     db.Config
	Salt   salt.Config
	Auth   auth.Config
	Notify notify.Config
	Orphan OrphanConfig
	// Hex-encoded 32-byte key for credential encryption at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type OrphanConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	TTL          time.Duration `mapstructure:"ttl"`
}

var config Config

func InitConfig() {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/veracity-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("salt.password", "SALT_API_PASSWORD")
	_ = viper.BindEnv("auth.secret", "AUTH_SECRET")
	_ = viper.BindEnv("notify.token", "GOTIFY_TOKEN")
	_ = viper.BindEnv("encryption_key", "ENCRYPTION_KEY")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)
}
