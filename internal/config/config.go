// Package config loads relay's settings.
//
// Sources, lowest priority first: built-in defaults, a YAML file, then
// RELAY_* environment variables (dots become underscores, so
// ide.port_min is RELAY_IDE_PORT_MIN), then command-line flags. The
// legacy IDE_PORT variable also sets ide.port.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transports the server can listen on.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the complete relay configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Research ResearchConfig `mapstructure:"research"`
	IDE      IDEConfig      `mapstructure:"ide"`
}

// ServerConfig selects the MCP transport.
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	Addr      string `mapstructure:"addr"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PlannerConfig controls request persistence. An empty DataDir keeps
// requests in memory only.
type PlannerConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// MemoryConfig controls the vector-memory connector.
type MemoryConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	DataDir           string `mapstructure:"data_dir"`
	DefaultCollection string `mapstructure:"default_collection"`
	SearchLimit       int    `mapstructure:"search_limit"`
	ReadOnly          bool   `mapstructure:"read_only"`
	StoreDescription  string `mapstructure:"store_description"`
	FindDescription   string `mapstructure:"find_description"`
}

// ResearchConfig controls the web-research connector.
type ResearchConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	SearchURL          string        `mapstructure:"search_url"`
	RendererURL        string        `mapstructure:"renderer_url"`
	UserAgent          string        `mapstructure:"user_agent"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	MaxResults         int           `mapstructure:"max_results"`
	Retries            int           `mapstructure:"retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	MaxScreenshotBytes int64         `mapstructure:"max_screenshot_bytes"`
}

// IDEConfig controls IDE discovery and the IDE proxy.
type IDEConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	PortMin         int           `mapstructure:"port_min"`
	PortMax         int           `mapstructure:"port_max"`
	PathPrefix      string        `mapstructure:"path_prefix"`
	Freshness       time.Duration `mapstructure:"freshness"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	ScanTimeout     time.Duration `mapstructure:"scan_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	ToolPrefix      string        `mapstructure:"tool_prefix"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"transport": "server.transport",
	"addr":      "server.addr",
	"log-level": "log.level",
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".relay")

	v.SetDefault("server.transport", TransportStdio)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("planner.data_dir", filepath.Join(base, "requests"))

	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.data_dir", base)
	v.SetDefault("memory.default_collection", "")
	v.SetDefault("memory.search_limit", 10)
	v.SetDefault("memory.read_only", false)
	v.SetDefault("memory.store_description", "")
	v.SetDefault("memory.find_description", "")

	v.SetDefault("research.enabled", true)
	v.SetDefault("research.search_url", "https://html.duckduckgo.com/html/")
	v.SetDefault("research.renderer_url", "")
	v.SetDefault("research.user_agent", "")
	v.SetDefault("research.fetch_timeout", 20*time.Second)
	v.SetDefault("research.max_results", 100)
	v.SetDefault("research.retries", 3)
	v.SetDefault("research.retry_delay", time.Second)
	v.SetDefault("research.max_screenshot_bytes", 5<<20)

	v.SetDefault("ide.enabled", true)
	v.SetDefault("ide.host", "127.0.0.1")
	v.SetDefault("ide.port", 0)
	v.SetDefault("ide.port_min", 63342)
	v.SetDefault("ide.port_max", 63352)
	v.SetDefault("ide.path_prefix", "/api")
	v.SetDefault("ide.freshness", 10*time.Second)
	v.SetDefault("ide.probe_timeout", 300*time.Millisecond)
	v.SetDefault("ide.scan_timeout", 5*time.Second)
	v.SetDefault("ide.refresh_interval", 10*time.Second)
	v.SetDefault("ide.tool_prefix", "ide_")
}

// Load reads the configuration. file may be empty, in which case
// relay.yaml is looked up in $HOME/.relay and the working directory and
// silently skipped when absent. flags may be nil.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ide.port", "RELAY_IDE_PORT", "IDE_PORT"); err != nil {
		return nil, fmt.Errorf("binding IDE_PORT: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".relay"))
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("invalid config: server.transport %q must be %q or %q",
			c.Server.Transport, TransportStdio, TransportHTTP)
	}
	if c.Server.Transport == TransportHTTP && c.Server.Addr == "" {
		return errors.New("invalid config: server.addr is required for the http transport")
	}

	ide := c.IDE
	if ide.Port < 0 || ide.Port > 65535 {
		return fmt.Errorf("invalid config: ide.port %d is out of range", ide.Port)
	}
	if ide.PortMin <= 0 || ide.PortMax > 65535 || ide.PortMin > ide.PortMax {
		return fmt.Errorf("invalid config: ide port range %d-%d", ide.PortMin, ide.PortMax)
	}
	for _, t := range []struct {
		key string
		d   time.Duration
	}{
		{"ide.probe_timeout", ide.ProbeTimeout},
		{"ide.scan_timeout", ide.ScanTimeout},
		{"research.fetch_timeout", c.Research.FetchTimeout},
	} {
		if t.d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %s", t.key, t.d)
		}
	}
	if ide.Freshness < 0 || ide.RefreshInterval < 0 {
		return errors.New("invalid config: ide.freshness and ide.refresh_interval cannot be negative")
	}
	if c.Research.Retries < 1 {
		return fmt.Errorf("invalid config: research.retries must be at least 1, got %d", c.Research.Retries)
	}
	if c.Memory.SearchLimit < 1 {
		return fmt.Errorf("invalid config: memory.search_limit must be at least 1, got %d", c.Memory.SearchLimit)
	}
	return nil
}
