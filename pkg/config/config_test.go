package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
source:
  type: live
interface:
  name: eth0
  timeout: 1s
router:
  router_id: 2.2.2.2
  asn: 65000
bgpd:
  mode: vty
  address: 127.0.0.1:2605
  password: zebra
  settle_delay: 500ms
api:
  port: 9090
log:
  level: DEBUG
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Interface.Name)
	assert.Equal(t, time.Second, cfg.Interface.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Bgpd.SettleDelay)
	assert.Equal(t, uint32(65000), cfg.Router.ASN)
	assert.Equal(t, ":9090", cfg.APIAddress())

	// 默认值
	assert.Equal(t, DefaultBufferSize, cfg.Pipeline.BufferSize)
	assert.Equal(t, int32(65535), cfg.Interface.SnapLen)
	assert.Equal(t, "ibgp2d.log", cfg.Log.Filename)

	rid, err := cfg.LocalRouterID()
	require.NoError(t, err)
	assert.Equal(t, types.RouterID(0x02020202), rid)
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "live", cfg.Source.Type)
	assert.Equal(t, "log", cfg.Bgpd.Mode)
	assert.Equal(t, DefaultSettleDelay, cfg.Bgpd.SettleDelay)
	assert.Equal(t, DefaultVtyAddress, cfg.Bgpd.Address)
	assert.Equal(t, DefaultAPIPort, cfg.API.Port)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.SetDefaults()
		cfg.Interface.Name = "eth0"
		cfg.Router.RouterID = "1.1.1.1"
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "missing interface", modify: func(c *Config) { c.Interface.Name = "" }, wantErr: true},
		{name: "file source without filename", modify: func(c *Config) { c.Source.Type = "file" }, wantErr: true},
		{name: "file source", modify: func(c *Config) { c.Source.Type = "file"; c.Source.Filename = "ospf.pcap" }},
		{name: "unknown source", modify: func(c *Config) { c.Source.Type = "kafka" }, wantErr: true},
		{name: "missing router id", modify: func(c *Config) { c.Router.RouterID = "" }, wantErr: true},
		{name: "bad router id", modify: func(c *Config) { c.Router.RouterID = "2001:db8::1" }, wantErr: true},
		{name: "vty without asn", modify: func(c *Config) { c.Bgpd.Mode = "vty" }, wantErr: true},
		{name: "vty bad address", modify: func(c *Config) { c.Bgpd.Mode = "vty"; c.Router.ASN = 1; c.Bgpd.Address = "localhost" }, wantErr: true},
		{name: "unknown bgpd mode", modify: func(c *Config) { c.Bgpd.Mode = "netconf" }, wantErr: true},
		{name: "both policies", modify: func(c *Config) { c.Policy.Expression = "true"; c.Policy.File = "p.yaml" }, wantErr: true},
		{name: "archive without size", modify: func(c *Config) { c.Archive.BaseFilename = "lsu" }, wantErr: true},
		{name: "negative buffer", modify: func(c *Config) { c.Pipeline.BufferSize = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "source: [unterminated"))
	assert.Error(t, err)

	// 缺少router_id
	_, err = LoadConfig(writeConfig(t, "interface:\n  name: eth0\n"))
	assert.Error(t, err)

	// ReadConfig不校验
	cfg, err := ReadConfig(writeConfig(t, "interface:\n  name: eth0\n"))
	require.NoError(t, err)
	cfg.Router.RouterID = "3.3.3.3"
	assert.NoError(t, cfg.Validate())
}
