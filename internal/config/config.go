package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Badger struct {
		Path     string `yaml:"path"`
		InMemory bool   `yaml:"in_memory"`
	} `yaml:"badger"`
	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"openai"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Quiz struct {
		CacheTTL     string `yaml:"cache_ttl"`
		DefaultCount int    `yaml:"default_count"`
	} `yaml:"quiz"`
	Proctoring Proctoring `yaml:"proctoring"`
	Sync       struct {
		ProbeInterval string `yaml:"probe_interval"`
		Concurrency   int    `yaml:"concurrency"`
	} `yaml:"sync"`
}

type Proctoring struct {
	FlagLimit int `yaml:"flag_limit"`
	Motion    struct {
		Interval   string  `yaml:"interval"`
		Threshold  int     `yaml:"threshold"`
		PixelRatio float64 `yaml:"pixel_ratio"`
		Width      int     `yaml:"width"`
		Height     int     `yaml:"height"`
	} `yaml:"motion"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Redis.TTL = "24h"
	cfg.Badger.InMemory = true
	cfg.OpenAI.Model = "gpt-4o-mini"
	cfg.AMQP.Exchange = "quiz.activity"
	cfg.Quiz.CacheTTL = "10m"
	cfg.Quiz.DefaultCount = 10
	cfg.Proctoring.FlagLimit = 3
	cfg.Proctoring.Motion.Interval = "2s"
	cfg.Proctoring.Motion.Threshold = 40
	cfg.Proctoring.Motion.PixelRatio = 0.01
	cfg.Proctoring.Motion.Width = 64
	cfg.Proctoring.Motion.Height = 48
	cfg.Sync.ProbeInterval = "5s"
	cfg.Sync.Concurrency = 4
	return cfg
}

// Load reads YAML config from path on top of Default, then applies env overrides.
// A missing file is not an error; .env is optional too.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
	}
	if v := os.Getenv("FLAG_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Proctoring.FlagLimit = n
		}
	}
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
