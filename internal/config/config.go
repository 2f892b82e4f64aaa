// Package config содержит логику чтения конфигурации сервиса расчётов.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса расчётов.
type Config struct {
	RunAddress           string   `env:"RUN_ADDRESS"`
	DatabaseURI          string   `env:"DATABASE_URI"`
	PaymentWebhookSecret string   `env:"PAYMENT_WEBHOOK_SECRET"`
	EncryptionKey        string   `env:"ENCRYPTION_KEY"`
	AuthSecret           string   `env:"AUTH_SECRET"`
	StockServiceAddress  string   `env:"STOCK_SERVICE_ADDRESS"`
	KafkaBrokers         []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic           string   `env:"KAFKA_TOPIC"`
	CommissionPercent    float64  `env:"COMMISSION_PERCENT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envWebhookSecret := cfg.PaymentWebhookSecret
	envEncryptionKey := cfg.EncryptionKey
	envAuthSecret := cfg.AuthSecret
	envStockAddress := cfg.StockServiceAddress
	envKafkaBrokers := cfg.KafkaBrokers
	envKafkaTopic := cfg.KafkaTopic
	envCommission := cfg.CommissionPercent

	var kafkaBrokers string

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentWebhookSecret, "w", "", "payment webhook HMAC secret")
	flag.StringVar(&cfg.EncryptionKey, "k", "", "financial record encryption key")
	flag.StringVar(&cfg.AuthSecret, "s", "", "auth cookie signing secret")
	flag.StringVar(&cfg.StockServiceAddress, "r", "", "stock service address")
	flag.StringVar(&kafkaBrokers, "b", "", "kafka broker addresses, comma separated")
	flag.StringVar(&cfg.KafkaTopic, "t", "settlement-events", "kafka notification topic")
	flag.Float64Var(&cfg.CommissionPercent, "c", 0, "platform commission percent")

	flag.Parse()

	if kafkaBrokers != "" {
		cfg.KafkaBrokers = strings.Split(kafkaBrokers, ",")
	}

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envWebhookSecret != "" {
		cfg.PaymentWebhookSecret = envWebhookSecret
	}
	if envEncryptionKey != "" {
		cfg.EncryptionKey = envEncryptionKey
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envStockAddress != "" {
		cfg.StockServiceAddress = envStockAddress
	}
	if len(envKafkaBrokers) > 0 {
		cfg.KafkaBrokers = envKafkaBrokers
	}
	if envKafkaTopic != "" {
		cfg.KafkaTopic = envKafkaTopic
	}
	if envCommission != 0 {
		cfg.CommissionPercent = envCommission
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	if cfg.PaymentWebhookSecret == "" {
		return nil, fmt.Errorf("payment webhook secret is required")
	}

	return cfg, nil
}
