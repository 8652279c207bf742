package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/c360/photgw/broker"
	"github.com/c360/photgw/errors"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "PHOTGW"

// Loader handles configuration loading with layers and overrides.
//
// File layers are decoded in order onto Defaults(), so a later layer only
// replaces the keys it names. Environment variables come last. Broker
// credentials normally live there rather than in a file.
type Loader struct {
	layers     []string
	envFiles   []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// AddEnvFile adds a dotenv file whose variables apply when the process
// environment does not set them. A missing file is not an error.
func (l *Loader) AddEnvFile(path string) {
	l.envFiles = append(l.envFiles, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of the environment overrides.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		if err := l.decodeLayer(path, cfg); err != nil {
			return nil, err
		}
	}

	lookup, err := l.envLookup()
	if err != nil {
		return nil, err
	}
	if err := l.applyEnvOverrides(cfg, lookup); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) decodeLayer(path string, cfg *Config) error {
	data, err := safeReadFile(path)
	if err != nil {
		return errors.Config("config", "", "load %s: %v", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.Config("config", "", "parse %s: %v", path, err)
	}
	return nil
}

// envLookup layers the dotenv files under the process environment.
func (l *Loader) envLookup() (func(string) (string, bool), error) {
	fileVars := map[string]string{}
	for _, path := range l.envFiles {
		vars, err := godotenv.Read(path)
		if stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errors.Config("config", "", "load %s: %v", path, err)
		}
		for k, v := range vars {
			if _, seen := fileVars[k]; !seen {
				fileVars[k] = v
			}
		}
	}

	return func(key string) (string, bool) {
		if v, ok := l.lookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}, nil
}

// envOverride binds environment variables to one config field. The first
// key that is set wins; later keys are legacy names still found in
// deployed environment files.
type envOverride struct {
	suffix string
	legacy []string
	apply  func(cfg *Config, value string) error
}

var envOverrides = []envOverride{
	{"BROKER_KIND", nil, func(c *Config, v string) error { c.Broker.Kind = broker.Kind(v); return nil }},
	{"BROKER_TRANSPORT", []string{"MQTT_TRANSPORT"}, func(c *Config, v string) error { c.Broker.Transport = v; return nil }},
	{"BROKER_HOST", []string{"MQTT_HOST"}, func(c *Config, v string) error { c.Broker.Host = v; return nil }},
	{"BROKER_PORT", []string{"MQTT_PORT"}, func(c *Config, v string) error { return setInt(&c.Broker.Port, v) }},
	{"BROKER_USERNAME", []string{"MQTT_USERNAME"}, func(c *Config, v string) error { c.Broker.Username = v; return nil }},
	{"BROKER_PASSWORD", []string{"MQTT_PASSWORD"}, func(c *Config, v string) error { c.Broker.Password = v; return nil }},
	{"BROKER_CLIENT_ID", []string{"MQTT_CLIENT_ID"}, func(c *Config, v string) error { c.Broker.ClientID = v; return nil }},
	{"BROKER_QOS", nil, func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return err
		}
		c.Broker.QoS = byte(n)
		return nil
	}},
	{"BROKER_STREAM", nil, func(c *Config, v string) error { c.Broker.Stream = v; return nil }},
	{"BROKER_BROKERS", nil, func(c *Config, v string) error {
		c.Broker.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Broker.Brokers = append(c.Broker.Brokers, b)
			}
		}
		return nil
	}},
	{"REGISTER_TOPIC", []string{"MQTT_TOPIC"}, func(c *Config, v string) error { c.Gateway.RegisterTopic = v; return nil }},
	{"ADMIN_LISTEN", []string{"ADMIN_HTTP_LISTEN_ADDR"}, func(c *Config, v string) error { c.Admin.Listen = v; return nil }},
	{"ADMIN_PORT", []string{"ADMIN_HTTP_PORT"}, func(c *Config, v string) error { return setInt(&c.Admin.Port, v) }},
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		keys := append([]string{l.envPrefix + "_" + o.suffix}, o.legacy...)
		for _, key := range keys {
			val, ok := lookup(key)
			if !ok || val == "" {
				continue
			}
			if err := validateEnvVar(key, val); err != nil {
				return errors.Config("config", key, "%v", err)
			}
			if err := o.apply(cfg, val); err != nil {
				return errors.Config("config", key, "invalid value %q: %v", val, err)
			}
			break
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("not an integer")
	}
	*dst = n
	return nil
}
