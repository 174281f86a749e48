// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"merch-copilot/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"` // e.g. http://127.0.0.1:8001
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // file | split | redis
	// Path is the combined slot file; IDPath/MessagesPath are the split
	// variant's two slots.
	Path         string `yaml:"path"`
	IDPath       string `yaml:"id_path"`
	MessagesPath string `yaml:"messages_path"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // optional; enables the transcript archive
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type BotConfig struct {
	Token   string `yaml:"token"` // optional; enables the Telegram surface
	Workers int    `yaml:"workers"`
}

type VoiceConfig struct {
	Recorder       string        `yaml:"recorder"` // capture binary, e.g. arecord
	Language       string        `yaml:"language"`
	SegmentSeconds int           `yaml:"segment_seconds"`
	MaxDuration    time.Duration `yaml:"max_duration"`
	OpenAIKey      string        `yaml:"openai_key"`
	Model          string        `yaml:"model"`
}

type ChatConfig struct {
	HistoryWindow int                    `yaml:"history_window"`
	StoreID       string                 `yaml:"store_id"`
	ItemID        string                 `yaml:"item_id"`
	Objective     string                 `yaml:"objective"` // "" | cost | service
	WhatIf        model.WhatIfParameters `yaml:"whatif"`
}

type Config struct {
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Admin    AdminConfig    `yaml:"admin"`
	Bot      BotConfig      `yaml:"bot"`
	Voice    VoiceConfig    `yaml:"voice"`
	Chat     ChatConfig     `yaml:"chat"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	var cfg Config
	if b, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// defaults
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://127.0.0.1:8001"
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 60 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultSlotPath("copilot_chat_v1.json")
	}
	if cfg.Store.IDPath == "" {
		cfg.Store.IDPath = defaultSlotPath("conv_id")
	}
	if cfg.Store.MessagesPath == "" {
		cfg.Store.MessagesPath = defaultSlotPath("chat_msgs.json")
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 4
	}
	if cfg.Voice.Recorder == "" {
		cfg.Voice.Recorder = "arecord"
	}
	if cfg.Voice.Language == "" {
		cfg.Voice.Language = "en"
	}
	if cfg.Voice.SegmentSeconds <= 0 {
		cfg.Voice.SegmentSeconds = 3
	}
	if cfg.Voice.MaxDuration <= 0 {
		cfg.Voice.MaxDuration = 30 * time.Second
	}
	if cfg.Voice.OpenAIKey == "" {
		cfg.Voice.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Voice.Model == "" {
		cfg.Voice.Model = "whisper-1"
	}
	if cfg.Chat.HistoryWindow <= 0 {
		cfg.Chat.HistoryWindow = 16
	}
	if cfg.Chat.StoreID == "" {
		cfg.Chat.StoreID = "CA_1"
	}
	zero := model.WhatIfParameters{}
	if cfg.Chat.WhatIf == zero {
		cfg.Chat.WhatIf = model.DefaultWhatIf()
	}

	// Minimal validation
	switch cfg.Store.Backend {
	case "file", "split", "redis":
	default:
		return nil, fmt.Errorf("store.backend must be file, split or redis, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "redis" && cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required when store.backend is redis")
	}
	switch cfg.Chat.Objective {
	case "", "cost", "service":
	default:
		return nil, fmt.Errorf("chat.objective must be cost or service, got %q", cfg.Chat.Objective)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func defaultSlotPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return name
	}
	return dir + "/merch-copilot/" + name
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 24 * time.Hour
	}
	return d
}
