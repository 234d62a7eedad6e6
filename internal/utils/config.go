package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// LoadLoggingConfig reads the LOG_* variables from the process environment.
func LoadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:        strings.ToLower(EnvOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(EnvOrDefault("LOG_ENCODING", "console")),
		Development:  ParseBool(EnvOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: ParseBool(EnvOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  EnvOrDefault("SERVICE_NAME", "kb-agent"),
	}
}

func EnvOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func ParseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func ParsePositiveInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i <= 0 {
		return fallback
	}
	return i
}

func ParseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func ParseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
