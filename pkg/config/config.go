package config

import "fmt"

// Config is the root configuration object, typically loaded from a single
// YAML file via Load (see loader.go).
type Config struct {
	Database  DatabaseConfig            `yaml:"database" json:"database"`
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`
	Logging   LoggingConfig             `yaml:"logging" json:"logging"`
	Prices    PriceTable                `yaml:"prices,omitempty" json:"prices,omitempty"`
}

// LoggingConfig configures process-wide logging (pkg/logging).
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// SetDefaults fills in defaults across the whole config tree.
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for name, p := range c.Providers {
		p.SetDefaults()
		c.Providers[name] = p
	}
}

// Validate checks the whole config tree.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	for name, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config: provider %q: %w", name, err)
		}
	}
	return nil
}

// Provider looks up a provider config by the name it was registered under in
// the providers map (not by Provider type — a single provider type may have
// multiple named configs, e.g. "flagship" and "cheap" both pointing at
// openai with different models).
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}
