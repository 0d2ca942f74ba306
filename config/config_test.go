package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(name, []byte(content), 0o600))
}

func TestLoadFileOverlayAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "quill.yaml")
	writeFile(t, file, `
server:
  hostname: mx.example.com
  addr: ":25"
  max_recipients: 50
  read_timeout: 2m
spool:
  dir: /var/spool/quill
senders:
  block: [spam.example]
dnsbl:
  zones: [zen.example.org]
`)
	writeFile(t, filepath.Join(dir, "quill.local.yaml"), `
server:
  hostname: mx.local.test
  addr: ":2525"
`)
	t.Setenv("QUILL_ADDR", ":2626")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "mx.local.test", cfg.Server.Hostname)
	assert.Equal(t, ":2626", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Server.MaxRecipients)
	assert.Equal(t, 2*time.Minute, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Server.DataTimeout)
	assert.Equal(t, "/var/spool/quill", cfg.Spool.Dir)
	assert.Equal(t, []string{"spam.example"}, cfg.Senders.Block)
	assert.Equal(t, []string{"zen.example.org"}, cfg.DNSBL.Zones)
	assert.Equal(t, 5*time.Second, cfg.DNSBL.Timeout)
}

func TestLoadFromCONFIG(t *testing.T) {
	file := filepath.Join(t.TempDir(), "c.yml")
	writeFile(t, file, "server:\n  hostname: from-config-env.test\n")
	t.Setenv("CONFIG", file)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-config-env.test", cfg.Server.Hostname)
}

func TestLoadEnvOnly(t *testing.T) {
	old := DefaultPath
	DefaultPath = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { DefaultPath = old })
	t.Setenv("CONFIG", "")
	t.Setenv("QUILL_HOSTNAME", "env.example.test")
	t.Setenv("QUILL_DNSBL_ZONES", "a.example,b.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env.example.test", cfg.Server.Hostname)
	assert.Equal(t, ":2525", cfg.Server.Addr)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.DNSBL.Zones)
	assert.Equal(t, int64(26214400), cfg.Server.MaxMessageSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no hostname", func(c *Config) { c.Server.Hostname = "" }},
		{"cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }},
		{"no spool dir", func(c *Config) { c.Spool.Dir = "" }},
		{"negative rate", func(c *Config) { c.RateLimit.Messages = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server: Server{Hostname: "mx.test"},
				Spool:  Spool{Dir: "spool"},
			}
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLocalPath(t *testing.T) {
	assert.Equal(t, "config/config.local.yaml", LocalPath("config/config.yaml"))
	assert.Equal(t, "quill.local", LocalPath("quill"))
}

func TestUsage(t *testing.T) {
	assert.Contains(t, Usage(), "QUILL_HOSTNAME")
}
