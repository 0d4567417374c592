package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config represents the application configuration
type Config struct {
	ProdRelays    []string `yaml:"prod_relays"`
	TestRelays    []string `yaml:"test_relays"`
	Port          string   `yaml:"port"`
	PublicHost    string   `yaml:"public_host"`
	SiteURL       string   `yaml:"site_url"`
	SessionDB     string   `yaml:"session_db"`
	QueryLimit    int      `yaml:"query_limit"`
	CacheTTL      int      `yaml:"cache_ttl"` // minutes
	ExtensionDTag string   `yaml:"extension_d_tag"`
	SignerSecret  string   `yaml:"signer_secret"` // nsec or hex, POH_NSEC overrides
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		Port:          ":8080",
		PublicHost:    "localhost",
		SiteURL:       "https://proofofheart.org",
		SessionDB:     "session.db",
		QueryLimit:    200,
		CacheTTL:      5,
		ExtensionDTag: "proofofheart-charity-profile-v1",
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if secret := os.Getenv("POH_NSEC"); secret != "" {
		cfg.SignerSecret = secret
	}

	if len(cfg.ProdRelays) == 0 {
		return nil, fmt.Errorf("config: at least one prod relay is required")
	}

	log.Printf("[CONFIG] Loaded configuration from %s", path)
	log.Printf("[CONFIG] - Prod relays: %d", len(cfg.ProdRelays))
	log.Printf("[CONFIG] - Test relays: %d", len(cfg.TestRelays))
	log.Printf("[CONFIG] - Public host: %s", cfg.PublicHost)
	log.Printf("[CONFIG] - Session DB: %s", cfg.SessionDB)
	log.Printf("[CONFIG] - Query limit: %d", cfg.QueryLimit)
	log.Printf("[CONFIG] - Cache TTL: %d minutes", cfg.CacheTTL)
	log.Printf("[CONFIG] - Signer configured: %t", cfg.SignerSecret != "")

	return &cfg, nil
}

// GetCacheTTL returns the directory cache TTL as a time.Duration
func (c *Config) GetCacheTTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Minute
}
