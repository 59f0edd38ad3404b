package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/kifu/go/internal/session"
)

const (
	TransportWebsocket = "websocket"
	TransportNATS      = "nats"
)

// Config is the engine configuration: kifu.yaml overridden by KIFU_* variables.
type Config struct {
	LogLevel string `yaml:"log_level"`
	Listen   string `yaml:"listen"`

	OGS struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
		UserID  int64  `yaml:"user_id"`
	} `yaml:"ogs"`

	Push struct {
		Transport        string `yaml:"transport"`
		SocketURL        string `yaml:"socket_url"`
		NATSURL          string `yaml:"nats_url"`
		ReconnectWaitSec int    `yaml:"reconnect_wait_sec"`
	} `yaml:"push"`

	RetryIntervalSec int `yaml:"retry_interval_sec"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path if it exists and applies environment overrides.
func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.LogLevel = getEnv("KIFU_LOG_LEVEL", orDefault(config.LogLevel, "info"))
	config.Listen = getEnv("KIFU_LISTEN", orDefault(config.Listen, ":8080"))
	config.OGS.BaseURL = getEnv("KIFU_OGS_URL", config.OGS.BaseURL)
	config.OGS.Token = getEnv("KIFU_TOKEN", config.OGS.Token)
	config.OGS.UserID = int64(getEnvAsInt("KIFU_USER_ID", int(config.OGS.UserID)))
	config.Push.Transport = getEnv("KIFU_PUSH_TRANSPORT", orDefault(config.Push.Transport, TransportWebsocket))
	config.Push.SocketURL = getEnv("KIFU_SOCKET_URL", config.Push.SocketURL)
	config.Push.NATSURL = getEnv("NATS_URL", config.Push.NATSURL)
	config.Push.ReconnectWaitSec = getEnvAsInt("KIFU_RECONNECT_WAIT_SEC", config.Push.ReconnectWaitSec)
	config.RetryIntervalSec = getEnvAsInt("KIFU_RETRY_INTERVAL_SEC", config.RetryIntervalSec)

	if err := config.resolveUserID(); err != nil {
		return nil, err
	}
	switch config.Push.Transport {
	case TransportWebsocket, TransportNATS:
	default:
		return nil, fmt.Errorf("unsupported push transport %q", config.Push.Transport)
	}
	return &config, nil
}

// resolveUserID reads the user id out of the session token unless it is set.
func (c *Config) resolveUserID() error {
	if c.OGS.UserID != 0 {
		return nil
	}
	if c.OGS.Token == "" {
		return errors.New("either KIFU_USER_ID or KIFU_TOKEN is required")
	}
	id, err := session.UserIDFromToken(c.OGS.Token)
	if err != nil {
		return fmt.Errorf("failed to read user id from token: %w", err)
	}
	c.OGS.UserID = id
	return nil
}

func (c *Config) retryInterval() time.Duration {
	if c.RetryIntervalSec <= 0 {
		return 0
	}
	return time.Duration(c.RetryIntervalSec) * time.Second
}

func (c *Config) logLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
