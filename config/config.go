// Package config loads the quill daemon configuration from a YAML file,
// an optional .local overlay and QUILL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is read when neither a path nor $CONFIG is given.
var DefaultPath = "./config/config.yaml"

type Config struct {
	Server    Server    `yaml:"server"`
	Spool     Spool     `yaml:"spool"`
	Senders   Senders   `yaml:"senders"`
	Clients   Clients   `yaml:"clients"`
	DNSBL     DNSBL     `yaml:"dnsbl"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
}

type Server struct {
	Hostname       string        `yaml:"hostname" env:"QUILL_HOSTNAME" env-default:"localhost"`
	Addr           string        `yaml:"addr" env:"QUILL_ADDR" env-default:":2525"`
	TLSCert        string        `yaml:"tls_cert" env:"QUILL_TLS_CERT"`
	TLSKey         string        `yaml:"tls_key" env:"QUILL_TLS_KEY"`
	MaxMessageSize int64         `yaml:"max_message_size" env:"QUILL_MAX_MESSAGE_SIZE" env-default:"26214400"`
	MaxRecipients  int           `yaml:"max_recipients" env:"QUILL_MAX_RECIPIENTS" env-default:"100"`
	MaxConnections int           `yaml:"max_connections" env:"QUILL_MAX_CONNECTIONS" env-default:"1000"`
	MaxCommands    int64         `yaml:"max_commands" env:"QUILL_MAX_COMMANDS" env-default:"1000"`
	MaxErrors      int           `yaml:"max_errors" env:"QUILL_MAX_ERRORS" env-default:"10"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"QUILL_READ_TIMEOUT" env-default:"5m"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"QUILL_WRITE_TIMEOUT" env-default:"5m"`
	DataTimeout    time.Duration `yaml:"data_timeout" env:"QUILL_DATA_TIMEOUT" env-default:"10m"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace" env:"QUILL_SHUTDOWN_GRACE" env-default:"30s"`
	ReverseDNS     bool          `yaml:"reverse_dns" env:"QUILL_REVERSE_DNS" env-description:"look up the client PTR name on connect"`
}

type Spool struct {
	Dir string `yaml:"dir" env:"QUILL_SPOOL_DIR" env-default:"./spool"`
}

// Senders configures the organizational-domain sender policy. It is wired
// only when one of the lists is non-empty.
type Senders struct {
	Allow []string `yaml:"allow" env:"QUILL_SENDERS_ALLOW" env-separator:","`
	Block []string `yaml:"block" env:"QUILL_SENDERS_BLOCK" env-separator:","`
}

// Clients filters connecting IPs by address or CIDR prefix. A non-empty
// Allow list admits only those clients; otherwise Deny refuses its entries.
type Clients struct {
	Allow []string `yaml:"allow" env:"QUILL_CLIENTS_ALLOW" env-separator:","`
	Deny  []string `yaml:"deny" env:"QUILL_CLIENTS_DENY" env-separator:","`
}

// DNSBL configures blocklist checks. Nameservers are also used for
// reverse lookups; empty means /etc/resolv.conf.
type DNSBL struct {
	Zones       []string      `yaml:"zones" env:"QUILL_DNSBL_ZONES" env-separator:","`
	Nameservers []string      `yaml:"nameservers" env:"QUILL_DNSBL_NAMESERVERS" env-separator:","`
	Timeout     time.Duration `yaml:"timeout" env:"QUILL_DNSBL_TIMEOUT" env-default:"5s"`
	FailOpen    bool          `yaml:"fail_open" env:"QUILL_DNSBL_FAIL_OPEN"`
}

// RateLimit caps messages per client IP. Zero disables it.
type RateLimit struct {
	Messages int           `yaml:"messages" env:"QUILL_RATE_LIMIT_MESSAGES"`
	Window   time.Duration `yaml:"window" env:"QUILL_RATE_LIMIT_WINDOW" env-default:"1m"`
}

type Log struct {
	Level  string `yaml:"level" env:"QUILL_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"QUILL_LOG_FORMAT" env-default:"text"`
}

// Load reads the configuration. file wins over $CONFIG, which wins over
// DefaultPath. Without any file only the environment and defaults apply.
// A sibling "<name>.local<ext>" file is applied on top of the main file.
func Load(file string) (*Config, error) {
	cfg := &Config{}

	if file == "" {
		file = os.Getenv("CONFIG")
	}
	if file == "" {
		_, err := os.Stat(DefaultPath)
		switch {
		case err == nil:
			file = DefaultPath
		case errors.Is(err, os.ErrNotExist):
			if err := cleanenv.ReadEnv(cfg); err != nil {
				return nil, fmt.Errorf("config error: %w", err)
			}
			return cfg, cfg.Validate()
		default:
			return nil, fmt.Errorf("config file %s: %w", DefaultPath, err)
		}
	}

	if err := cleanenv.ReadConfig(file, cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	local := LocalPath(file)
	if _, err := os.Stat(local); err == nil {
		if err := cleanenv.ReadConfig(local, cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	// Environment wins over the overlay.
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

// LocalPath returns the overlay path for file.
func LocalPath(file string) string {
	ext := path.Ext(file)
	return file[:len(file)-len(ext)] + ".local" + ext
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	if c.Server.Hostname == "" {
		return errors.New("config: server.hostname is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("config: server.tls_cert and server.tls_key must be set together")
	}
	if c.Spool.Dir == "" {
		return errors.New("config: spool.dir is required")
	}
	if c.RateLimit.Messages < 0 {
		return errors.New("config: rate_limit.messages must not be negative")
	}
	return nil
}

// Usage returns the environment variable reference.
func Usage() string {
	desc, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return err.Error()
	}
	return desc
}
