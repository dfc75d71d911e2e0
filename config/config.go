package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	DatabasePath  string
	ServerAddress string
	JWTSecret     string
	InvoicesDir   string
	Currency      string

	// FallbackEnergyRate prices net energy when no tariff resolves for a
	// billing period.
	FallbackEnergyRate float64
}

func Load() *Config {
	return &Config{
		DatabasePath:       getEnv("DATABASE_PATH", "./netmetering.db"),
		ServerAddress:      getEnv("SERVER_ADDRESS", ":8082"),
		JWTSecret:          getEnv("JWT_SECRET", "netmetering-secret-change-in-production"),
		InvoicesDir:        getEnv("INVOICES_DIR", "./invoices"),
		Currency:           getEnv("CURRENCY", "GTQ"),
		FallbackEnergyRate: getEnvFloat("FALLBACK_ENERGY_RATE", 1.60),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("WARNING: invalid %s=%q, using default %.2f", key, value, defaultValue)
		return defaultValue
	}
	return f
}
