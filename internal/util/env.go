package util

import (
	"os"
	"strconv"

	"github.com/meridian-hq/atlas/backend/pkg/logger"

	"github.com/joho/godotenv"
)

// LoadEnv pulls a local .env file into the process environment when one
// exists. Deployed environments configure the process directly, so a missing
// file is the normal case outside development.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

// GetEnv returns the value of key, or "" when unset.
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvString returns the value of key, or defaultValue when unset. An
// explicitly empty value wins over the default.
func GetEnvString(key string, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// GetEnvNumeric parses key as a number, falling back to defaultValue when
// the variable is unset or not numeric.
func GetEnvNumeric(key string, defaultValue int) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return float64(defaultValue)
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return float64(defaultValue)
	}
	return parsed
}

// GetEnvBool parses key as a boolean, falling back to defaultValue when the
// variable is unset or not parseable.
func GetEnvBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
