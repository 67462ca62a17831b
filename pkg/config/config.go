package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

const (
	DefaultBufferSize  = 1000
	DefaultSettleDelay = time.Second
	DefaultVtyAddress  = "127.0.0.1:2605"
	DefaultAPIPort     = 8080
)

type Config struct {
	Source struct {
		Type     string `yaml:"type"` // live/file
		Filename string `yaml:"filename"`
	} `yaml:"source"`

	Interface struct {
		Name        string        `yaml:"name"`
		SnapLen     int32         `yaml:"snaplen"`
		Promiscuous bool          `yaml:"promiscuous"`
		Timeout     time.Duration `yaml:"timeout"`
		BPFFilter   string        `yaml:"bpf_filter"`
	} `yaml:"interface"`

	Pipeline struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"pipeline"`

	// Router 被管理的本地路由器
	Router struct {
		RouterID string `yaml:"router_id"`
		ASN      uint32 `yaml:"asn"`
	} `yaml:"router"`

	Bgpd struct {
		Mode           string        `yaml:"mode"` // vty/log/none
		Address        string        `yaml:"address"`
		Password       string        `yaml:"password"`
		EnablePassword string        `yaml:"enable_password"`
		SettleDelay    time.Duration `yaml:"settle_delay"`
		LogFile        string        `yaml:"log_file"`
	} `yaml:"bgpd"`

	Policy struct {
		Expression string `yaml:"expression"`
		File       string `yaml:"file"`
	} `yaml:"policy"`

	Archive struct {
		BaseFilename string `yaml:"base_filename"`
		MaxFileSize  int64  `yaml:"max_file_size"`
	} `yaml:"archive"`

	API struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"api"`

	Log struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		Filename   string `yaml:"filename"`
		MaxAge     int    `yaml:"max_age"`     // 小时
		RotateTime int    `yaml:"rotate_time"` // 小时
	} `yaml:"log"`
}

// SetDefaults 填充未配置的可选项
func (c *Config) SetDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = "live"
	}
	if c.Pipeline.BufferSize == 0 {
		c.Pipeline.BufferSize = DefaultBufferSize
	}
	if c.Interface.SnapLen == 0 {
		c.Interface.SnapLen = 65535
	}
	if c.Interface.BPFFilter == "" {
		c.Interface.BPFFilter = "ip proto 89 or ip6 proto 89"
	}
	if c.Bgpd.Mode == "" {
		c.Bgpd.Mode = "log"
	}
	if c.Bgpd.Address == "" {
		c.Bgpd.Address = DefaultVtyAddress
	}
	if c.Bgpd.SettleDelay == 0 {
		c.Bgpd.SettleDelay = DefaultSettleDelay
	}
	if c.API.Port == 0 {
		c.API.Port = DefaultAPIPort
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.Filename == "" {
		c.Log.Filename = "ibgp2d.log"
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 24
	}
	if c.Log.RotateTime == 0 {
		c.Log.RotateTime = 1
	}
}

func (c *Config) Validate() error {
	switch c.Source.Type {
	case "live":
		if c.Interface.Name == "" {
			return fmt.Errorf("interface name is required")
		}
	case "file":
		if c.Source.Filename == "" {
			return fmt.Errorf("source filename is required")
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}

	if c.Pipeline.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}

	if _, err := c.LocalRouterID(); err != nil {
		return err
	}

	switch c.Bgpd.Mode {
	case "vty":
		if c.Router.ASN == 0 {
			return fmt.Errorf("router asn is required in vty mode")
		}
		if _, _, err := net.SplitHostPort(c.Bgpd.Address); err != nil {
			return fmt.Errorf("invalid bgpd address %q: %w", c.Bgpd.Address, err)
		}
	case "log", "none":
	default:
		return fmt.Errorf("unknown bgpd mode %q", c.Bgpd.Mode)
	}
	if c.Bgpd.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative")
	}

	if c.Policy.Expression != "" && c.Policy.File != "" {
		return fmt.Errorf("policy expression and policy file are mutually exclusive")
	}

	if c.Archive.BaseFilename != "" && c.Archive.MaxFileSize <= 0 {
		return fmt.Errorf("archive max file size must be positive")
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	return nil
}

// LocalRouterID 解析本地路由器ID
func (c *Config) LocalRouterID() (types.RouterID, error) {
	if c.Router.RouterID == "" {
		return 0, fmt.Errorf("router id is required")
	}
	return types.ParseRouterID(c.Router.RouterID)
}

// APIAddress echo监听地址
func (c *Config) APIAddress() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// ReadConfig 读取配置并填充默认值，不做校验，便于命令行参数覆盖后再校验
func ReadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

func LoadConfig(filename string) (*Config, error) {
	cfg, err := ReadConfig(filename)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
