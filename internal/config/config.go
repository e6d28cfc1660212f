package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration, loaded from a single TOML file.
type Config struct {
	Podio       Podio       `toml:"podio"`
	Wazzup      Wazzup      `toml:"wazzup"`
	Integration Integration `toml:"integration"`
	Database    Database    `toml:"database"`
	Server      Server      `toml:"server"`
	Logging     Logging     `toml:"logging"`
}

// Podio holds credentials and app identifiers for the Podio API.
type Podio struct {
	BaseURL      string `toml:"base_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	DealsAppID   int64  `toml:"deals_app_id"`
}

// Wazzup holds the channel provider token and endpoints.
type Wazzup struct {
	BaseURL    string `toml:"base_url"`
	APIToken   string `toml:"api_token"`
	WebhookURL string `toml:"webhook_url"`
}

// Integration tunes the sync behavior between the two platforms.
type Integration struct {
	PollingIntervalSecs int      `toml:"polling_interval_secs"`
	ErrorBackoffSecs    int      `toml:"error_backoff_secs"`
	MaxMessageLength    int      `toml:"max_message_length"`
	SendCommands        []string `toml:"send_commands"`
	ExcludeCommands     []string `toml:"exclude_commands"`
	AutoSendComments    bool     `toml:"auto_send_comments"`
	AutoSendRoles       []string `toml:"auto_send_roles"`
	DealPolicy          string   `toml:"deal_policy"` // reuse_active or reopen_closed
	MaxConcurrent       int      `toml:"max_concurrent_requests"`
	HTTPTimeoutSecs     int      `toml:"http_timeout_secs"`
}

// Database locates the tracking store.
type Database struct {
	Path string `toml:"path"`
}

// Server configures the webhook HTTP listener.
type Server struct {
	ListenAddr string `toml:"listen_addr"`
}

// Logging configures the log file and level.
type Logging struct {
	Path  string `toml:"path"`
	Level string `toml:"level"`
}

// Deal policies accepted in Integration.DealPolicy. Both reuse an active
// deal; they differ on what happens when a contact only has closed deals:
// reuse_active opens a fresh deal, reopen_closed reactivates the last one.
const (
	DealPolicyReuseActive  = "reuse_active"
	DealPolicyReopenClosed = "reopen_closed"
)

// Load reads and validates config from the given path, applying defaults
// for every optional field.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with defaults. Credentials are left
// empty and must come from the file.
func Default() *Config {
	return &Config{
		Podio: Podio{
			BaseURL: "https://api.podio.com",
		},
		Wazzup: Wazzup{
			BaseURL: "https://api.wazzup24.com/v3",
		},
		Integration: Integration{
			PollingIntervalSecs: 120,
			ErrorBackoffSecs:    30,
			MaxMessageLength:    4000,
			SendCommands:        []string{"@send", "@client"},
			ExcludeCommands:     []string{"@nosend", "@internal"},
			AutoSendComments:    true,
			AutoSendRoles:       []string{"user", "admin", "manager"},
			DealPolicy:          DealPolicyReuseActive,
			MaxConcurrent:       4,
			HTTPTimeoutSecs:     20,
		},
		Database: Database{Path: "chatbridge.db"},
		Server:   Server{ListenAddr: ":8080"},
		Logging:  Logging{Path: "chatbridge.log", Level: "info"},
	}
}

// Validate checks required fields and enum values.
func (c *Config) Validate() error {
	if c.Podio.ClientID == "" || c.Podio.ClientSecret == "" {
		return fmt.Errorf("config: podio client_id and client_secret are required")
	}
	if c.Podio.Username == "" || c.Podio.Password == "" {
		return fmt.Errorf("config: podio username and password are required")
	}
	if c.Podio.DealsAppID == 0 {
		return fmt.Errorf("config: podio deals_app_id is required")
	}
	if c.Wazzup.APIToken == "" {
		return fmt.Errorf("config: wazzup api_token is required")
	}
	switch c.Integration.DealPolicy {
	case DealPolicyReuseActive, DealPolicyReopenClosed:
	default:
		return fmt.Errorf("config: unknown deal_policy %q", c.Integration.DealPolicy)
	}
	return nil
}

// PollingInterval returns the reconciliation cycle interval.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Integration.PollingIntervalSecs) * time.Second
}

// ErrorBackoff returns the shortened sleep used after a failed cycle.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Integration.ErrorBackoffSecs) * time.Second
}

// HTTPTimeout returns the per-request timeout for outbound API calls.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Integration.HTTPTimeoutSecs) * time.Second
}
