package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v4"
)

// Config is the CLI configuration read from config.toml.
type Config struct {
	Server string `toml:"server"`
	Token  string `toml:"token"`
	// User defaults to the subject of Token.
	User string `toml:"user"`
}

func defaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "taskboard", "config.toml"), nil
}

// loadConfig reads path, then applies TASKBOARD_* environment overrides.
// A missing file yields an empty config.
func loadConfig(path string, env func(string) string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	default:
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
		}
	}

	if v := env("TASKBOARD_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := env("TASKBOARD_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := env("TASKBOARD_USER"); v != "" {
		cfg.User = v
	}
	return cfg, nil
}

// resolve fills defaults and checks that the config can reach a server.
func (c Config) resolve() (Config, error) {
	if c.Server == "" {
		c.Server = "http://localhost:8080"
	}
	if c.Token == "" {
		return c, errors.New("no token configured; set token in config.toml, TASKBOARD_TOKEN or --token")
	}
	if c.User == "" {
		user, err := tokenSubject(c.Token)
		if err != nil {
			return c, fmt.Errorf("derive user from token: %w", err)
		}
		c.User = user
	}
	return c, nil
}

// tokenSubject reads the owner id from a token without verifying it; the
// server does the verification.
func tokenSubject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if uid, ok := claims["userId"].(string); ok && uid != "" {
		return uid, nil
	}
	return "", errors.New("token has no subject")
}
