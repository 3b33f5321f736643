/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string  `mapstructure:"SERVER_PORT"`
	DatabaseURL              string  `mapstructure:"DATABASE_URL"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string  `mapstructure:"RABBITMQ_URL"`
	AdminJWKSURL             string  `mapstructure:"ADMIN_JWKS_URL"`
	InternalAPIKey           string  `mapstructure:"INTERNAL_API_KEY"`
	PersonalLoanAnnualRate   float64 `mapstructure:"PERSONAL_LOAN_ANNUAL_RATE"`
	AutoLoanAnnualRate       float64 `mapstructure:"AUTO_LOAN_ANNUAL_RATE"`
	HomeLoanAnnualRate       float64 `mapstructure:"HOME_LOAN_ANNUAL_RATE"`
	BusinessLoanAnnualRate   float64 `mapstructure:"BUSINESS_LOAN_ANNUAL_RATE"`
	ReconcileSweepSchedule   string  `mapstructure:"RECONCILE_SWEEP_SCHEDULE"`
	ReconcileSweepWorkers    int     `mapstructure:"RECONCILE_SWEEP_WORKERS"`
	ImportMaxUploadBytes     int64   `mapstructure:"IMPORT_MAX_UPLOAD_BYTES"`
	ImportRateLimitPerMinute int     `mapstructure:"IMPORT_RATE_LIMIT_PER_MINUTE"`
}

// LoanRates maps loan product codes to the configured annual rates.
func (c Config) LoanRates() map[string]float64 {
	return map[string]float64{
		"personal": c.PersonalLoanAnnualRate,
		"auto":     c.AutoLoanAnnualRate,
		"home":     c.HomeLoanAnnualRate,
		"business": c.BusinessLoanAnnualRate,
	}
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("PERSONAL_LOAN_ANNUAL_RATE", 0.085)
	viper.SetDefault("AUTO_LOAN_ANNUAL_RATE", 0.065)
	viper.SetDefault("HOME_LOAN_ANNUAL_RATE", 0.055)
	viper.SetDefault("BUSINESS_LOAN_ANNUAL_RATE", 0.095)
	viper.SetDefault("RECONCILE_SWEEP_SCHEDULE", "0 3 * * *")
	viper.SetDefault("RECONCILE_SWEEP_WORKERS", 4)
	viper.SetDefault("IMPORT_MAX_UPLOAD_BYTES", 5*1024*1024)
	viper.SetDefault("IMPORT_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PERSONAL_LOAN_ANNUAL_RATE")
	_ = viper.BindEnv("AUTO_LOAN_ANNUAL_RATE")
	_ = viper.BindEnv("HOME_LOAN_ANNUAL_RATE")
	_ = viper.BindEnv("BUSINESS_LOAN_ANNUAL_RATE")
	_ = viper.BindEnv("RECONCILE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_SWEEP_WORKERS")
	_ = viper.BindEnv("IMPORT_MAX_UPLOAD_BYTES")
	_ = viper.BindEnv("IMPORT_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}

	for name, rate := range map[string]*float64{
		"PERSONAL_LOAN_ANNUAL_RATE": &config.PersonalLoanAnnualRate,
		"AUTO_LOAN_ANNUAL_RATE":     &config.AutoLoanAnnualRate,
		"HOME_LOAN_ANNUAL_RATE":     &config.HomeLoanAnnualRate,
		"BUSINESS_LOAN_ANNUAL_RATE": &config.BusinessLoanAnnualRate,
	} {
		if *rate < 0 {
			log.Printf("level=warn component=config msg=\"negative loan rate configured; coercing to zero\" key=%s rate=%f", name, *rate)
			*rate = 0
		}
	}

	if config.ReconcileSweepSchedule == "" {
		config.ReconcileSweepSchedule = "0 3 * * *"
	}
	if config.ReconcileSweepWorkers <= 0 {
		config.ReconcileSweepWorkers = 4
	}
	if config.ImportMaxUploadBytes <= 0 {
		config.ImportMaxUploadBytes = 5 * 1024 * 1024
	}
	if config.ImportRateLimitPerMinute <= 0 {
		config.ImportRateLimitPerMinute = 10
	}

	return
}
