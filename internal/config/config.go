// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config resolves settings from the config file, the
// environment and command line flags, and resolves credentials once at
// startup.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/matta/jobtrail/internal/gmail"
	"github.com/matta/jobtrail/internal/homedir"
	"github.com/matta/jobtrail/internal/llm"
	"github.com/matta/jobtrail/internal/persist"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "JOBTRAIL"
	configFileName = ".jobtrail"
	keyringService = "jobtrail"

	// KeyringAPIKey is the keyring item holding the AI API key.
	KeyringAPIKey = "ai-api-key"
)

// Gmail settings.
type Gmail struct {
	Limit    int64  `mapstructure:"limit"`
	Window   string `mapstructure:"window"`
	Endpoint string `mapstructure:"endpoint"`
}

// AI settings.
type AI struct {
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

// OAuth client settings.
type OAuth struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// Config is the resolved configuration.
type Config struct {
	Mode    string `mapstructure:"mode"`
	DataDir string `mapstructure:"data_dir"`
	DBPath  string `mapstructure:"db_path"`
	Trace   bool   `mapstructure:"trace"`
	Gmail   Gmail  `mapstructure:"gmail"`
	AI      AI     `mapstructure:"ai"`
	OAuth   OAuth  `mapstructure:"oauth"`
}

// New returns a viper instance with defaults and environment binding
// in place.  Flags are bound by the caller before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("mode", string(persist.ModeReal))
	v.SetDefault("data_dir", homedir.DataDir())
	v.SetDefault("db_path", "")
	v.SetDefault("trace", false)
	v.SetDefault("gmail.limit", gmail.DefaultLimit)
	v.SetDefault("gmail.window", string(gmail.DefaultWindow))
	v.SetDefault("gmail.endpoint", "")
	v.SetDefault("ai.model", llm.DefaultModel)
	v.SetDefault("ai.endpoint", llm.DefaultEndpoint)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.redirect_url", "http://localhost")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or $HOME/.jobtrail.yaml when path is empty, into v
// and decodes the result.  A missing config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(homedir.Get())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if _, err := persist.ParseMode(cfg.Mode); err != nil {
		return nil, err
	}
	if _, err := gmail.ParseWindow(cfg.Gmail.Window); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "jobtrail.db")
	}
	return cfg, nil
}

// ArchiveDir is where raw message payloads are kept.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "raw")
}

// SecretStore is a source of stored credentials.
type SecretStore interface {
	Get(key string) (keyring.Item, error)
	Set(item keyring.Item) error
	Remove(key string) error
}

// OpenKeyring opens the OS keyring, falling back to an encrypted file
// under dataDir.
func OpenKeyring(dataDir string) (SecretStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dataDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("jobtrail-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening keyring")
	}
	return ring, nil
}

// ResolveAPIKey returns the AI API key, checking the configured value
// (file, environment or flag) first and then secrets.  It returns ""
// when no source has one; secrets may be nil.
func ResolveAPIKey(cfg *Config, secrets SecretStore) string {
	if k := strings.TrimSpace(cfg.AI.APIKey); k != "" {
		return k
	}
	if secrets == nil {
		return ""
	}
	item, err := secrets.Get(KeyringAPIKey)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(item.Data))
}

// StoreAPIKey saves key in secrets.
func StoreAPIKey(secrets SecretStore, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty API key")
	}
	err := secrets.Set(keyring.Item{Key: KeyringAPIKey, Data: []byte(key), Label: "jobtrail AI API key"})
	return errors.Wrap(err, "storing API key")
}
