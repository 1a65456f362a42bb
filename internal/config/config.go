package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                  int      `env:"PORT" envDefault:"8080"`
	DatabaseURL           string   `env:"DATABASE_URL,required"`
	RedisURL              string   `env:"REDIS_URL,required"`
	EncryptionKey         string   `env:"ENCRYPTION_KEY,required"`
	SupabaseJWTSecret     string   `env:"SUPABASE_JWT_SECRET,required"`
	SpotifyClientID       string   `env:"SPOTIFY_CLIENT_ID,required"`
	SpotifyClientSecret   string   `env:"SPOTIFY_CLIENT_SECRET,required"`
	SpotifyRedirectURI    string   `env:"SPOTIFY_REDIRECT_URI,required"`
	SpotifyScopes         []string `env:"SPOTIFY_SCOPES" envSeparator:" " envDefault:"user-read-recently-played playlist-modify-private playlist-modify-public"`
	SpotifyTimeoutSeconds int      `env:"SPOTIFY_HTTP_TIMEOUT_SECONDS" envDefault:"10"`
	OAuthStateTTLSeconds  int      `env:"OAUTH_STATE_TTL_SECONDS" envDefault:"600"`
	RateLimitPerMin       int      `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	FrontendRedirectURL   string   `env:"FRONTEND_REDIRECT_URL" envDefault:""`
	LogLevel              string   `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) SpotifyTimeout() time.Duration {
	return time.Duration(c.SpotifyTimeoutSeconds) * time.Second
}

func (c *Config) OAuthStateTTL() time.Duration {
	return time.Duration(c.OAuthStateTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
	}

	if c.SpotifyTimeoutSeconds <= 0 {
		return fmt.Errorf("SPOTIFY_HTTP_TIMEOUT_SECONDS must be positive")
	}
	if c.OAuthStateTTLSeconds <= 0 {
		return fmt.Errorf("OAUTH_STATE_TTL_SECONDS must be positive")
	}

	if isProduction {
		if len(c.SupabaseJWTSecret) < 32 {
			return fmt.Errorf("SUPABASE_JWT_SECRET must be at least 32 characters in production")
		}
		if !strings.HasPrefix(c.SpotifyRedirectURI, "https://") {
			log.Warn().Msg("SPOTIFY_REDIRECT_URI is not https in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
