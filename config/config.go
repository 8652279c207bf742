package config

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/photgw/broker"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/logging"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/output/publisher"
	"github.com/c360/photgw/pkg/retry"
	"github.com/c360/photgw/pkg/security"
	"github.com/c360/photgw/pkg/tlsutil"
)

// Admin listener defaults.
const (
	DefaultAdminListen = "127.0.0.1"
	DefaultAdminPort   = 8080
)

// Config is the complete gateway configuration.
type Config struct {
	Gateway   publisher.Config       `yaml:"gateway"`
	Backoff   retry.Config           `yaml:"backoff"`
	Broker    broker.Config          `yaml:"broker"`
	Admin     AdminConfig            `yaml:"admin"`
	LogLevels map[string]string      `yaml:"log_levels"`
	Devices   []message.DeviceConfig `yaml:"devices"`
}

// AdminConfig configures the administrative HTTP listener.
type AdminConfig struct {
	Enabled bool                     `yaml:"enabled"`
	Listen  string                   `yaml:"listen"`
	Port    int                      `yaml:"port"`
	TLS     security.ServerTLSConfig `yaml:"tls"`
}

// Address returns the listen address for net/http.
func (a AdminConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Listen, a.Port)
}

// Defaults returns the configuration every file layer is merged onto.
func Defaults() *Config {
	return &Config{
		Gateway: publisher.Config{
			RegisterRepeat: publisher.DefaultRegisterRepeat,
			StatsInterval:  publisher.DefaultStatsInterval,
		},
		Backoff: retry.Default(),
		Broker: broker.Defaults(),
		Admin: AdminConfig{
			Enabled: true,
			Listen:  DefaultAdminListen,
			Port:    DefaultAdminPort,
		},
	}
}

// Validate checks the whole configuration and normalizes it in place.
// Every failure is a configuration error.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return errors.Config("config", "devices", "at least one photometer must be configured")
	}

	names := make(map[string]bool, len(c.Devices))
	macs := make(map[string]string, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if err := d.Normalize(); err != nil {
			return err
		}
		if names[d.Name] {
			return errors.Config("config", "devices", "device %q configured twice", d.Name)
		}
		if other, dup := macs[d.MAC]; dup {
			return errors.Config("config", "devices", "MAC %s used by both %q and %q", d.MAC, other, d.Name)
		}
		names[d.Name] = true
		macs[d.MAC] = d.Name

		if _, err := logging.ParseLevel(d.LogLevel); err != nil {
			return errors.Config("config", fmt.Sprintf("devices[%s].log_level", d.Name), "%v", err)
		}
	}

	if err := c.Broker.Normalize(); err != nil {
		return err
	}
	if err := c.Backoff.Validate(); err != nil {
		return errors.Config("config", "backoff", "%v", err)
	}
	c.Gateway.Backoff = c.Backoff
	if err := c.Gateway.Validate(); err != nil {
		return err
	}

	for name, level := range c.LogLevels {
		if !slices.Contains(logging.Components, name) {
			return errors.Config("config", "log_levels", "unknown logger %q", name)
		}
		if _, err := logging.ParseLevel(level); err != nil {
			return errors.Config("config", "log_levels."+name, "%v", err)
		}
	}

	return c.Admin.validate()
}

func (a *AdminConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Listen == "" {
		a.Listen = DefaultAdminListen
	}
	if a.Port == 0 {
		a.Port = DefaultAdminPort
	}
	if a.Port < 1 || a.Port > 65535 {
		return errors.Config("config", "admin.port", "port %d out of range", a.Port)
	}
	if _, err := tlsutil.ServerConfig(a.TLS); err != nil {
		return err
	}
	return nil
}

// ComponentLevels returns the parsed component log levels. Call after
// Validate.
func (c *Config) ComponentLevels() map[string]slog.Level {
	out := make(map[string]slog.Level, len(c.LogLevels))
	for name, s := range c.LogLevels {
		l, _ := logging.ParseLevel(s)
		out[name] = l
	}
	return out
}

// DeviceLevels returns the parsed per-photometer log levels. Devices
// without an explicit level are included at info.
func (c *Config) DeviceLevels() map[string]slog.Level {
	out := make(map[string]slog.Level, len(c.Devices))
	for _, d := range c.Devices {
		l, _ := logging.ParseLevel(d.LogLevel)
		out[d.Name] = l
	}
	return out
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	out := *c
	out.Broker.Brokers = slices.Clone(c.Broker.Brokers)
	out.Broker.TLS.CAFiles = slices.Clone(c.Broker.TLS.CAFiles)
	out.Admin.TLS.MTLS.ClientCAFiles = slices.Clone(c.Admin.TLS.MTLS.ClientCAFiles)
	out.Admin.TLS.MTLS.AllowedClientCNs = slices.Clone(c.Admin.TLS.MTLS.AllowedClientCNs)
	if c.LogLevels != nil {
		out.LogLevels = make(map[string]string, len(c.LogLevels))
		for k, v := range c.LogLevels {
			out.LogLevels[k] = v
		}
	}
	out.Devices = make([]message.DeviceConfig, len(c.Devices))
	for i, d := range c.Devices {
		d.Calibration = slices.Clone(d.Calibration)
		out.Devices[i] = d
	}
	return &out
}

// SafeConfig provides thread-safe access to the configuration that is
// swapped on reload.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.Config("config", "", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
