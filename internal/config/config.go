package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration. All fields are
// optional; command-line flags override what is set here.
type Config struct {
	LogLevel string    `yaml:"log_level"`
	DataDir  string    `yaml:"data_dir"`
	Accounts []Account `yaml:"accounts"`
}

// Account holds credentials for a remote mailbox so secrets stay out
// of the command line. Referenced by name with --account.
type Account struct {
	Name     string `yaml:"name"`
	Protocol string `yaml:"protocol"` // "pop3" or "imap"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	Folder   string `yaml:"imap_folder"`
}

// GetFolder returns the IMAP folder name, defaulting to "INBOX".
func (a *Account) GetFolder() string {
	if a.Folder == "" {
		return "INBOX"
	}
	return a.Folder
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "data",
	}
}

// Account looks up a named account.
func (c *Config) Account(name string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return Account{}, false
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	seen := make(map[string]struct{})
	for i, a := range c.Accounts {
		label := a.Name
		if label == "" {
			return fmt.Errorf("account #%d: name is required", i)
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("account %s: duplicate name", label)
		}
		seen[label] = struct{}{}
		if a.Protocol != "pop3" && a.Protocol != "imap" {
			return fmt.Errorf("account %s: protocol must be pop3 or imap", label)
		}
		if a.Host == "" {
			return fmt.Errorf("account %s: host is required", label)
		}
		if a.Port == 0 {
			return fmt.Errorf("account %s: port is required", label)
		}
	}
	return nil
}
