package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type DetectionConfig struct {
	SaveInterval  time.Duration
	MatchWindow   time.Duration
	FlushInterval time.Duration
	LogDir        string
	Location      string
	RetentionDays int
}

type AWSConfig struct {
	Region string
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Detection   DetectionConfig
	AWS         AWSConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Detection: DetectionConfig{
			SaveInterval:  v.GetDuration("DETECTION_SAVE_INTERVAL"),
			MatchWindow:   v.GetDuration("DETECTION_MATCH_WINDOW"),
			FlushInterval: v.GetDuration("BATCH_FLUSH_INTERVAL"),
			LogDir:        v.GetString("DETECTION_LOG_DIR"),
			Location:      v.GetString("CAMERA_LOCATION"),
			RetentionDays: v.GetInt("RETENTION_DAYS"),
		},
		AWS: AWSConfig{
			Region: v.GetString("AWS_REGION"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Detection.SaveInterval == 0 {
		cfg.Detection.SaveInterval = 3 * time.Second
	}
	if cfg.Detection.MatchWindow == 0 {
		cfg.Detection.MatchWindow = 10 * time.Minute
	}
	if cfg.Detection.FlushInterval == 0 {
		cfg.Detection.FlushInterval = 10 * time.Second
	}
	if cfg.Detection.LogDir == "" {
		cfg.Detection.LogDir = "logs"
	}
	if cfg.Detection.Location == "" {
		cfg.Detection.Location = "Camera"
	}
	if cfg.Detection.RetentionDays == 0 {
		cfg.Detection.RetentionDays = 90
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	return nil
}
