package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all drawbridge server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string `json:"listen_addr"`
	RendererOrigin    string `json:"renderer_origin"`
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	VisionAPIKey      string `json:"vision_api_key"`
	VisionBaseURL     string `json:"vision_base_url"`
	VisionModel       string `json:"vision_model"`
	ValidationTimeout int    `json:"validation_timeout_seconds"`
	SessionTTL        int    `json:"session_ttl_minutes"`
	SweepInterval     int    `json:"sweep_interval_seconds"`
	PollInterval      int    `json:"poll_interval_seconds"`
	RetryBudget       int    `json:"retry_budget"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":6002",
		DBPath:            filepath.Join(drawbridgeDir(), "drawbridge.db"),
		LogLevel:          "info",
		ValidationTimeout: 10,
		SessionTTL:        30,
		SweepInterval:     60,
		PollInterval:      2,
		RetryBudget:       3,
	}
}

func drawbridgeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drawbridge"
	}
	return filepath.Join(home, ".drawbridge")
}

func settingsPath() string {
	return filepath.Join(drawbridgeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DRAWBRIDGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DRAWBRIDGE_RENDERER_ORIGIN"); v != "" {
		cfg.RendererOrigin = v
	}
	if v := os.Getenv("DRAWBRIDGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DRAWBRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DRAWBRIDGE_VISION_API_KEY"); v != "" {
		cfg.VisionAPIKey = v
	}
	if v := os.Getenv("DRAWBRIDGE_VISION_BASE_URL"); v != "" {
		cfg.VisionBaseURL = v
	}
	if v := os.Getenv("DRAWBRIDGE_VISION_MODEL"); v != "" {
		cfg.VisionModel = v
	}
	if v := os.Getenv("DRAWBRIDGE_VALIDATION_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ValidationTimeout = n
		}
	}
	if v := os.Getenv("DRAWBRIDGE_SESSION_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTL = n
		}
	}
	if v := os.Getenv("DRAWBRIDGE_SWEEP_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepInterval = n
		}
	}
	if v := os.Getenv("DRAWBRIDGE_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = n
		}
	}
	if v := os.Getenv("DRAWBRIDGE_RETRY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryBudget = n
		}
	}

	return cfg
}

func (c Config) validationTimeout() time.Duration {
	return time.Duration(c.ValidationTimeout) * time.Second
}

func (c Config) sessionTTL() time.Duration {
	return time.Duration(c.SessionTTL) * time.Minute
}

func (c Config) sweepInterval() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}
