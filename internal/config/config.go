// Package config loads service configuration from environment variables, optionally
// seeded from an env file.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// New loads configuration from environment variables into any given struct type.
// It uses generics to work with different config structs.
func New[T any]() (*T, error) {
	cfg := new(T)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// LoadEnv loads content of ENV_FILE (e.g .env.bridge) into environment variables.
// An explicit path overrides ENV_FILE. A missing default .env is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = os.Getenv("ENV_FILE")
	}
	if path == "" {
		if _, err := os.Stat(".env"); os.IsNotExist(err) {
			return nil
		}
		return godotenv.Load()
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
