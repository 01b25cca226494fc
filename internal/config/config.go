package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/imattau/nostr-community-conventions/internal/keys"
)

// Config is the steward configuration: signing key, relay set and default tag
// values used to seed new drafts. It is stored as a JSON blob in the config
// table; YAML is the import/export file format.
type Config struct {
	Privkey string      `json:"privkey" yaml:"privkey"`
	Relays  []string    `json:"relays" yaml:"relays"`
	Tags    TagDefaults `json:"tags" yaml:"tags"`
}

// TagDefaults seed document and succession drafts when the caller leaves a
// field unset.
type TagDefaults struct {
	Summary     string   `json:"summary" yaml:"summary"`
	Topics      []string `json:"topics" yaml:"topics"`
	Lang        string   `json:"lang" yaml:"lang"`
	Version     string   `json:"version" yaml:"version"`
	Supersedes  []string `json:"supersedes" yaml:"supersedes"`
	License     string   `json:"license" yaml:"license"`
	Authors     []string `json:"authors" yaml:"authors"`
	Steward     string   `json:"steward" yaml:"steward"`
	Previous    string   `json:"previous" yaml:"previous"`
	Reason      string   `json:"reason" yaml:"reason"`
	EffectiveAt string   `json:"effective_at" yaml:"effective_at"`
}

// Default returns the stock configuration with well-known relays.
func Default() *Config {
	return &Config{
		Relays: []string{
			"wss://relay.damus.io",
			"wss://relay.snort.social",
			"wss://nos.lol",
		},
		Tags: TagDefaults{
			Topics:     []string{},
			Supersedes: []string{},
			Authors:    []string{},
		},
	}
}

// Validate checks key material. An empty privkey is allowed; publishing
// requires one and fails later with a clearer message.
func (c *Config) Validate() error {
	if c.Privkey != "" {
		if _, err := keys.ParseSecret(c.Privkey); err != nil {
			return fmt.Errorf("config privkey: %w", err)
		}
	}
	for _, a := range c.Tags.Authors {
		if a == "" {
			continue
		}
		if err := keys.CheckPublic(a); err != nil {
			return fmt.Errorf("config author %s: %w", a, err)
		}
	}
	return nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders the config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ResolveRelays returns the explicit relay list, or the configured set when
// the caller supplied none.
func (c *Config) ResolveRelays(relays []string) []string {
	if len(relays) > 0 {
		return relays
	}
	if c == nil {
		return nil
	}
	return c.Relays
}
