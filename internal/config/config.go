package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the engine's configuration surface. Entry points receive it
// explicitly; nothing in the engine reads ambient global state.
type Config struct {
	// Enabled turns federation on. When false the receive endpoints
	// reject deliveries and nothing is transmitted.
	Enabled bool

	// TestMode makes Transmit a no-op success without any network call.
	TestMode bool

	// Domain is the local handle domain (the part after the @).
	Domain string

	// ListenAddr is the HTTP boundary's bind address.
	ListenAddr string

	// RelayServers is the statically configured relay server list.
	RelayServers []string

	// AcceptDirectRelay additionally admits dynamically subscribed relay
	// servers into the relay target set.
	AcceptDirectRelay bool

	MongoURI  string
	RedisAddr string
}

func (c *Config) Validate() error {
	if c.Domain == "" {
		return errors.New("config: Domain is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "localhost:9090"
	}
	if c.MongoURI == "" {
		c.MongoURI = "mongodb://localhost:27017"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	for _, s := range c.RelayServers {
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: bad relay server URL %q", s)
		}
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no buffer")
	}

	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// IsLocal reports whether the given server URL points at this node.
func (c *Config) IsLocal(serverURL string) bool {
	u, err := url.Parse(serverURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, c.Domain)
}
