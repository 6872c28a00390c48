package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL      string        `env:"PASARLIVE_API_URL" envDefault:"https://api.pasarlive.id"`
	EventsURL       string        `env:"PASARLIVE_EVENTS_URL" envDefault:"wss://events.pasarlive.id/socket"`
	SessionToken    string        `env:"PASARLIVE_SESSION_TOKEN"`
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	HTTPTimeout     time.Duration `env:"PASARLIVE_HTTP_TIMEOUT" envDefault:"15s"`
	PresenceTimeout time.Duration `env:"PASARLIVE_PRESENCE_TIMEOUT" envDefault:"10s"`
	PageSize        int           `env:"PASARLIVE_PAGE_SIZE" envDefault:"50"`
	Mute            bool          `env:"PASARLIVE_MUTE" envDefault:"false"`
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.SessionToken == "" {
		return nil, fmt.Errorf("PASARLIVE_SESSION_TOKEN is required")
	}

	return cfg, nil
}
