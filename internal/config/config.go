// Package config loads service configuration from an optional YAML file
// overlaid with environment variables. Environment always wins so deploys
// can override a checked-in file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen   string `yaml:"listen"`
	AdminKey string `yaml:"admin_key"`

	Cache   CacheConfig   `yaml:"cache"`
	Redis   RedisConfig   `yaml:"redis"`
	GenAI   GenAIConfig   `yaml:"genai"`
	Assets  AssetsConfig  `yaml:"assets"`
	Session SessionConfig `yaml:"session"`
	Tracker TrackerConfig `yaml:"tracker"`
	Story   StoryConfig   `yaml:"story"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // disk | memory | redis
	Dir           string        `yaml:"dir"`
	MaxAgeDays    int           `yaml:"max_age_days"`
	Prefix        string        `yaml:"prefix"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// GenAIConfig points at the upstream generation API.
type GenAIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	TextModel  string        `yaml:"text_model"`
	ImageModel string        `yaml:"image_model"`
	Timeout    time.Duration `yaml:"timeout"`
}

type AssetsConfig struct {
	Dir string `yaml:"dir"`
}

type SessionConfig struct {
	Backend string `yaml:"backend"` // file | memory
	Path    string `yaml:"path"`
}

type TrackerConfig struct {
	Path string `yaml:"path"`
}

// StoryConfig carries generation defaults for the storybook itself.
type StoryConfig struct {
	SceneCount          int    `yaml:"scene_count"`
	IllustrationQuality string `yaml:"illustration_quality"`
	BackgroundQuality   string `yaml:"background_quality"`
	ImageSize           string `yaml:"image_size"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Cache: CacheConfig{
			Backend:       "disk",
			Dir:           "data/cache",
			MaxAgeDays:    30,
			Prefix:        "storybook",
			SweepInterval: 24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		GenAI: GenAIConfig{
			BaseURL:    "https://api.openai.com",
			TextModel:  "gpt-4",
			ImageModel: "gpt-image-1",
			Timeout:    60 * time.Second,
		},
		Assets: AssetsConfig{
			Dir: "data/images",
		},
		Session: SessionConfig{
			Backend: "file",
			Path:    "data/sessions.json",
		},
		Tracker: TrackerConfig{
			Path: "data/usage.db",
		},
		Story: StoryConfig{
			SceneCount:          3,
			IllustrationQuality: "high",
			BackgroundQuality:   "medium",
			ImageSize:           "1024x1536",
		},
	}
}

// Load reads the YAML file at path (missing file is fine when path is the
// default) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Cache.MaxAgeDays <= 0 {
		cfg.Cache.MaxAgeDays = 30
	}
	return cfg, nil
}

// MaxAge converts the configured day count to a duration.
func (c *CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	c.Listen = getenv("LISTEN", c.Listen)
	c.AdminKey = getenv("ADMIN_KEY", c.AdminKey)

	c.Cache.Backend = getenv("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Dir = getenv("CACHE_DIR", c.Cache.Dir)
	if v := os.Getenv("CACHE_MAX_AGE_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Cache.MaxAgeDays = days
		}
	}

	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)

	c.GenAI.BaseURL = getenv("GENAI_BASE_URL", c.GenAI.BaseURL)
	c.GenAI.APIKey = getenv("GENAI_API_KEY", c.GenAI.APIKey)
	c.GenAI.TextModel = getenv("TEXT_MODEL", c.GenAI.TextModel)
	c.GenAI.ImageModel = getenv("IMAGE_MODEL", c.GenAI.ImageModel)

	c.Assets.Dir = getenv("ASSETS_DIR", c.Assets.Dir)
	c.Session.Backend = getenv("SESSION_BACKEND", c.Session.Backend)
	c.Session.Path = getenv("SESSION_PATH", c.Session.Path)
	c.Tracker.Path = getenv("TRACKER_PATH", c.Tracker.Path)
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
