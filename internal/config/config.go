package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quizroom-service/internal/app"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr        string `yaml:"addr"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		FinishedTTL string `yaml:"finishedTtl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		// CacheTTL bounds how long per-subject pools stay cached.
		CacheTTL string `yaml:"cacheTtl"`
	} `yaml:"questions"`
	Session struct {
		Countdown       string `yaml:"countdown"`
		TimePerQuestion string `yaml:"timePerQuestion"`
		Reveal          string `yaml:"reveal"`
		HeartbeatGrace  string `yaml:"heartbeatGrace"`
		BasePoints      int    `yaml:"basePoints"`
		SpeedBonusMax   int    `yaml:"speedBonusMax"`
	} `yaml:"session"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SessionConfig maps the timing section onto the session knobs; zero values
// fall back to the session defaults.
func (c Config) SessionConfig() app.SessionConfig {
	return app.SessionConfig{
		CountdownDelay:  TTLDuration(c.Session.Countdown, 0),
		TimePerQuestion: TTLDuration(c.Session.TimePerQuestion, 0),
		RevealDelay:     TTLDuration(c.Session.Reveal, 0),
		HeartbeatGrace:  TTLDuration(c.Session.HeartbeatGrace, 0),
		Rules: app.ScoringRules{
			BasePoints:    c.Session.BasePoints,
			SpeedBonusMax: c.Session.SpeedBonusMax,
		},
	}
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
