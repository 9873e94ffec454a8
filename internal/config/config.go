package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration: environment settings plus the
// immutable device description loaded from DEVICE_CONFIG.
type Config struct {
	AppEnv   string
	LogLevel slog.Level

	DeviceConfigPath string
	// HTTPAddr enables the local status API when non-empty.
	HTTPAddr string
	// DiagnosticsPath enables the sqlite diagnostics journal when non-empty.
	DiagnosticsPath string
	TickInterval    time.Duration

	Device Device
}

// LoadFromEnv reads the environment (after an optional .env file), then the
// device file it points at. Secrets in the environment override the file.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	devicePath := strings.TrimSpace(os.Getenv("DEVICE_CONFIG"))
	if devicePath == "" {
		devicePath = "./device.yaml"
	}

	tickStr := strings.TrimSpace(os.Getenv("TICK_INTERVAL"))
	if tickStr == "" {
		tickStr = "1s"
	}
	tick, err := time.ParseDuration(tickStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TICK_INTERVAL %q: %w", tickStr, err)
	}
	if tick <= 0 {
		return Config{}, fmt.Errorf("TICK_INTERVAL must be positive, got %v", tick)
	}

	dev, err := LoadDevice(devicePath, envSecrets())
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:           appEnv,
		LogLevel:         level,
		DeviceConfigPath: devicePath,
		HTTPAddr:         strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		DiagnosticsPath:  strings.TrimSpace(os.Getenv("DIAGNOSTICS_PATH")),
		TickInterval:     tick,
		Device:           dev,
	}, nil
}

// Secrets are credentials kept out of the device file.
type Secrets struct {
	WiFiPassword string
	InfluxToken  string
	MQTTUsername string
	MQTTPassword string
}

func envSecrets() Secrets {
	return Secrets{
		WiFiPassword: os.Getenv("WIFI_PASSWORD"),
		InfluxToken:  os.Getenv("INFLUXDB_TOKEN"),
		MQTTUsername: os.Getenv("MQTT_USERNAME"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),
	}
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
