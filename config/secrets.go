package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrSecretNotFound is returned when a store has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	return v, nil
}

// GetWithDefault returns def when key is unset or empty.
func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// FileSecretStore reads one secret per file from a directory, the layout
// used by mounted container secrets. Trailing newlines are trimmed.
type FileSecretStore struct {
	Dir string
}

func (s FileSecretStore) Get(_ context.Context, key string) (string, error) {
	if strings.ContainsAny(key, `/\`) || key == ".." || key == "." {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, key)) // #nosec G304 - key checked above
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", key, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// ChainSecretStore tries each store in order.
type ChainSecretStore []SecretStore

func (c ChainSecretStore) Get(ctx context.Context, key string) (string, error) {
	for _, s := range c {
		v, err := s.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
}

// Secret keys looked up by ResolveSecrets.
const (
	SecretSQLDSN        = "PROGRESSKIT_SQL_DSN"
	SecretRedisPassword = "PROGRESSKIT_REDIS_PASSWORD"
	SecretWebhookSecret = "PROGRESSKIT_WEBHOOK_SECRET"
	SecretExportAPIKey  = "PROGRESSKIT_ANALYTICS_EXPORT_API_KEY"
)

// ResolveSecrets fills empty secret fields of cfg from store. Fields that
// already have a value are left alone; missing secrets are not an error.
func ResolveSecrets(ctx context.Context, cfg *Config, store SecretStore) error {
	targets := []struct {
		key string
		dst *string
	}{
		{SecretSQLDSN, &cfg.Storage.SQL.DSN},
		{SecretRedisPassword, &cfg.Storage.Redis.Password},
		{SecretWebhookSecret, &cfg.Integrations.Webhooks.Secret},
		{SecretExportAPIKey, &cfg.Analytics.ExportAPIKey},
	}
	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		v, err := store.Get(ctx, t.key)
		switch {
		case err == nil:
			*t.dst = v
		case errors.Is(err, ErrSecretNotFound):
		default:
			return err
		}
	}
	return nil
}
