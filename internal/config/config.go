// Package config reads the cocoon server configuration file.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the content of cocoon.yaml.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Sitemap     string        `mapstructure:"sitemap"`
	CheckReload bool          `mapstructure:"check-reload"`
	ReloadDelay time.Duration `mapstructure:"reload-delay"`
	Watch       bool          `mapstructure:"watch"`
	LogLevel    string        `mapstructure:"log-level"`
	UserHeader  string        `mapstructure:"user-header"`

	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
}

// StoreConfig selects the backend of the caching source.
type StoreConfig struct {
	Type string `mapstructure:"type"`
	// Path is the directory of the file store.
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
	// EncryptionKey is a base64 AES-256 key sealing stored values.
	EncryptionKey string   `mapstructure:"encryption-key"`
	FallbackKeys  []string `mapstructure:"fallback-keys"`
}

// EncryptionKeys decodes the configured keys. active is nil when encryption
// is off.
func (s StoreConfig) EncryptionKeys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	if active, err = decodeKey(s.EncryptionKey); err != nil {
		return nil, nil, fmt.Errorf("store.encryption-key: %w", err)
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("store.fallback-keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must decode to 32 bytes, got %d", ErrInvalid, len(key))
	}
	return key, nil
}

// RedisConfig addresses a redis server.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// CacheConfig tunes cached: sources.
type CacheConfig struct {
	DefaultExpires  int           `mapstructure:"default-expires"`
	RefreshInterval time.Duration `mapstructure:"refresh-interval"`
}

// ProfilesConfig locates the portal profiles.
type ProfilesConfig struct {
	Dir       string              `mapstructure:"dir"`
	CacheSize int                 `mapstructure:"cache-size"`
	Groups    map[string][]string `mapstructure:"groups"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:        ":8080",
		Sitemap:     "sitemap.xmap",
		CheckReload: true,
		ReloadDelay: time.Second,
		LogLevel:    "info",
		Store:       StoreConfig{Type: StoreMemory, Path: ".cocoon/store"},
		Cache:       CacheConfig{DefaultExpires: 60, RefreshInterval: 10 * time.Second},
		Profiles:    ProfilesConfig{CacheSize: 256},
	}
}

// Load reads path on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data on top of Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be decoded wrong but still make no sense.
func (c Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory, StoreFile:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("%w: store.redis.addr is required", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store type %q", ErrInvalid, c.Store.Type)
	}
	if _, _, err := c.Store.EncryptionKeys(); err != nil {
		return err
	}
	if c.Sitemap == "" {
		return fmt.Errorf("%w: sitemap is required", ErrInvalid)
	}
	if c.ReloadDelay < 0 {
		return fmt.Errorf("%w: reload-delay must not be negative", ErrInvalid)
	}
	if c.Profiles.CacheSize <= 0 {
		return fmt.Errorf("%w: profiles.cache-size must be positive", ErrInvalid)
	}
	return nil
}
