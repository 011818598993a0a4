package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	cron_config "github.com/customeros/draftsync/internal/cron/config"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/tracing"
)

type Config struct {
	AppConfig       *AppConfig
	Logger          *logger.Config
	Tracing         *tracing.JaegerConfig
	DatabaseConfig  *DatabaseConfig
	R2StorageConfig *R2StorageConfig
	OutboxConfig    *OutboxConfig
	MailAPIConfig   *MailAPIConfig
	CryptoConfig    *CryptoConfig
	CronConfig      *cron_config.Config
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:       &AppConfig{},
		Logger:          &logger.Config{},
		Tracing:         &tracing.JaegerConfig{},
		DatabaseConfig:  &DatabaseConfig{},
		R2StorageConfig: &R2StorageConfig{},
		OutboxConfig:    &OutboxConfig{},
		MailAPIConfig:   &MailAPIConfig{},
		CryptoConfig:    &CryptoConfig{},
		CronConfig:      &cron_config.Config{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading draftsync config: %v", err)
	}

	return config, nil
}
