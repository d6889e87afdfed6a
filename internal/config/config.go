// Package config defines the shape of Signet's on-disk configuration
// document and a read-only snapshot that the rest of the daemon holds
// by reference: the struct, reading and writing the JSON file (Load and
// Save), validation, and the atomic snapshot swap. Watching the file
// for changes is not done here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
)

// KeyEntry is one entry of the config file's "keys" map: either a plain
// nsec or an encrypted {iv, data} pair produced by the vault.
type KeyEntry struct {
	Key  string `json:"key,omitempty"`
	IV   string `json:"iv,omitempty"`
	Data string `json:"data,omitempty"`
}

func (k KeyEntry) Encrypted() bool {
	return k.Key == "" && k.IV != "" && k.Data != ""
}

// Config is the JSON document described in the external-interfaces
// section: relays, custodied keys, bind address, base URL, admin
// secret, and an optional JWT secret consumed only by the (out of
// scope) HTTP layer.
type Config struct {
	Relays      []string            `json:"relays"`
	Keys        map[string]KeyEntry `json:"keys"`
	BindAddr    string              `json:"bind_addr"`
	BaseURL     string              `json:"base_url"`
	AdminSecret string              `json:"admin_secret,omitempty"`
	JWTSecret   string              `json:"jwt_secret,omitempty"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks structural invariants that every consumer relies on.
func (c *Config) Validate() error {
	if len(c.Relays) == 0 {
		return fmt.Errorf("at least one relay must be configured")
	}
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr must not be empty")
	}
	for name, entry := range c.Keys {
		if entry.Key == "" && (entry.IV == "" || entry.Data == "") {
			return fmt.Errorf("key %q: must set either %q or both %q and %q", name, "key", "iv", "data")
		}
	}
	return nil
}

// Save writes cfg back to path as indented JSON, matching Load's shape.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Store holds a read-only Config snapshot behind an atomic pointer so
// every long-lived task can read the current configuration without a
// lock; a hot-reload is a fresh Load followed by Swap.
type Store struct {
	ptr atomic.Pointer[Config]
}

func NewStore(initial *Config) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

// Current returns the active snapshot. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.ptr.Load()
}

// Swap installs a new snapshot, returning the previous one.
func (s *Store) Swap(next *Config) *Config {
	return s.ptr.Swap(next)
}
