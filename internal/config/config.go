package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tailscale/hujson"

	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

type Config struct {
	Server  ServerConfig  `json:"server" envPrefix:"GDA_"`
	Store   StoreConfig   `json:"store"`
	Project ProjectConfig `json:"project" envPrefix:"GDA_"`
	View    ViewConfig    `json:"view" envPrefix:"GDA_VIEW_"`
	Logger  LoggerConfig  `json:"logger" envPrefix:"GDA_LOG_"`
}

type ServerConfig struct {
	ListenAddr string `json:"listen_addr" env:"LISTEN_ADDR"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	PagePath   string `json:"page_path"`
	AuthToken  string `json:"auth_token" env:"AUTH_TOKEN"`
	// JWTSecret switches page auth to HS256 tokens; it replaces AuthToken.
	JWTSecret string `json:"jwt_secret" env:"JWT_SECRET"`
	// TitleRate caps titles per second per page; zero disables the limit.
	TitleRate  float64 `json:"title_rate" env:"TITLE_RATE"`
	TitleBurst int     `json:"title_burst"`
	// HandledTTLSeconds bounds how long answered callback ids are remembered.
	HandledTTLSeconds int `json:"handled_ttl_seconds"`
}

type StoreConfig struct {
	RedisAddr string `json:"redis_addr" env:"REDIS_ADDR"`
	Namespace string `json:"namespace" env:"GDA_REDIS_NAMESPACE"`
}

type ProjectConfig struct {
	// TablePath points at the data table; empty starts with an empty table.
	TablePath string `json:"table_path" env:"TABLE"`
	// Variables answers variable-settings prompts without a dialog.
	Variables []string `json:"variables" env:"VARIABLES"`
	// Weights lists spatial weights titles registered at startup.
	Weights []string `json:"weights" env:"WEIGHTS"`
}

type ViewConfig struct {
	Headless bool   `json:"headless" env:"HEADLESS"`
	ExecPath string `json:"exec_path" env:"CHROME"`
}

type LoggerConfig struct {
	Level      string `json:"level" env:"LEVEL"`
	Format     string `json:"format" env:"FORMAT"`
	File       string `json:"file" env:"FILE"`
	MaxSize    int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:        ":8080",
			PagePath:          "/ws/page",
			HandledTTLSeconds: 24 * 60 * 60,
		},
		Store: StoreConfig{
			Namespace: "gda",
		},
		View: ViewConfig{
			Headless: true,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "console",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load reads path (JSON with comments and trailing commas allowed) over the
// defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config failed: %w", err)
		}
		std, err := hujson.Standardize(content)
		if err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
		if err := protocol.Unmarshal(std, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env failed: %w", err)
	}

	if cfg.Server.PagePath == "" {
		cfg.Server.PagePath = "/ws/page"
	}
	if cfg.Server.ListenAddr == "" {
		if cfg.Server.Host != "" && cfg.Server.Port > 0 {
			cfg.Server.ListenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		} else {
			cfg.Server.ListenAddr = ":8080"
		}
	}
	if cfg.Server.HandledTTLSeconds <= 0 {
		cfg.Server.HandledTTLSeconds = 24 * 60 * 60
	}
	if cfg.Store.Namespace == "" {
		cfg.Store.Namespace = "gda"
	}
	return cfg, nil
}

func (s ServerConfig) HandledTTL() time.Duration {
	return time.Duration(s.HandledTTLSeconds) * time.Second
}
