package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvcrn/codex-oauth-proxy/internal/codex"
	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/env"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
	"github.com/dvcrn/codex-oauth-proxy/internal/oauth"
)

const DefaultPort = 7860

// Config is the runtime configuration of the proxy.
type Config struct {
	Port         int
	APIKey       string
	TokenFile    string
	Issuer       string
	APIEndpoint  string
	CallbackAddr string
	LoginTimeout time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment variables
// win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         DefaultPort,
		APIKey:       env.GetOrDefault("PROXY_API_KEY", ""),
		Issuer:       env.GetOrDefault("CODEX_ISSUER", oauth.DefaultIssuer),
		APIEndpoint:  env.GetOrDefault("CODEX_API_ENDPOINT", codex.DefaultEndpoint),
		CallbackAddr: env.GetOrDefault("OAUTH_CALLBACK_ADDR", oauth.DefaultCallbackAddr),
	}

	if portStr, ok := env.Get("PORT"); ok {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", portStr)
		}
		cfg.Port = port
	}

	timeout, ok := env.GetDuration("OAUTH_TIMEOUT", oauth.DefaultLoginTimeout)
	if _, set := env.Get("OAUTH_TIMEOUT"); set && !ok {
		logger.Get().Warn().Msg("Invalid OAUTH_TIMEOUT, defaulting to 5 minutes")
	}
	cfg.LoginTimeout = timeout

	tokenFile, ok := env.Get("CODEX_TOKEN_FILE")
	if !ok {
		var err error
		tokenFile, err = credentials.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg.TokenFile = tokenFile

	return cfg, nil
}

// Addr is the listen address of the proxy.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
