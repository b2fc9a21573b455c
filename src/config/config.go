// Package config loads, validates, and writes the relay's layered TOML/env
// configuration, following the teacher's koanf-based approach in its own
// (now superseded) src/config/config.go: a layered koanf tree seeded with
// defaults, overlaid with the config file and then environment variables,
// decoded into a typed struct and validated with go-playground/validator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tagoio/mqtt-relay/src/common/secrets"
	"github.com/tagoio/mqtt-relay/src/security/validation"
)

const envPrefix = "TAGOIO__"

// bootstrapEnv resolves the config file path override before the config
// file itself is ever touched, the same one-shot env-only bootstrap the
// teacher's LoadEnvConfigFile performed ahead of its file-based load.
type bootstrapEnv struct {
	ConfigPath string `env:"TAGOIO__RELAY__CONFIG_PATH"`
}

// DefaultConfigPath returns the config file location the CLI uses when
// --config-path is omitted: an explicit override, then the env var, then
// $HOME/.config/.tagoio-mqtt-relay.toml, in that precedence.
func DefaultConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	var be bootstrapEnv
	if err := env.Parse(&be); err != nil {
		return "", fmt.Errorf("failed to parse bootstrap environment: %w", err)
	}
	if be.ConfigPath != "" {
		return be.ConfigPath, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", ".tagoio-mqtt-relay.toml"), nil
}

// envTransform turns TAGOIO__RELAY__NETWORK_TOKEN into relay.network_token,
// the delimiter-transform callback shape documented by koanf's own env
// provider examples.
func envTransform(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Load reads the TOML document at path, overlays TAGOIO__-prefixed
// environment variables, resolves secret references, and validates the
// result. The returned *RelayConfig is safe to share by pointer across every
// goroutine the Supervisor starts.
func Load(path string) (*RelayConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	if err := validation.ValidateConfigContentSize(int(info.Size())); err != nil {
		return nil, fmt.Errorf("config file rejected: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultRelayConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to seed config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := k.Load(envprovider.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to overlay environment variables: %w", err)
	}

	var fc fileConfig
	if err := k.Unmarshal("", &fc); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg := fc.Relay
	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secret references: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// resolveSecrets passes every secret-bearing field through
// src/common/secrets.Resolve, so operators can reference "env:"/"file:"
// indirections instead of committing plaintext credentials to the TOML file.
func resolveSecrets(cfg *RelayConfig) error {
	var err error

	if cfg.Platform.NetworkToken, err = secrets.Resolve(cfg.Platform.NetworkToken); err != nil {
		return fmt.Errorf("network_token: %w", err)
	}
	if cfg.Platform.AuthorizationToken, err = secrets.Resolve(cfg.Platform.AuthorizationToken); err != nil {
		return fmt.Errorf("authorization_token: %w", err)
	}
	if cfg.MQTT.Password, err = secrets.Resolve(cfg.MQTT.Password); err != nil {
		return fmt.Errorf("mqtt password: %w", err)
	}

	return nil
}

// ErrConfigExists is returned by WriteDefault when the target file already exists.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault writes a default TOML config document at path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultRelayConfig(), "koanf"), nil); err != nil {
		return fmt.Errorf("failed to build default config: %w", err)
	}

	out, err := k.Marshal(toml.Parser())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
		return fmt.Errorf("failed to create config file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
