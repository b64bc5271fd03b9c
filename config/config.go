// Package config loads and validates relaybus's layered configuration
// (defaults, YAML file, environment variables, command-line flags),
// following the koanf/pflag Option pattern used throughout the module.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	log "github.com/relaybus/relaybus/log"
	"github.com/relaybus/relaybus/validation"
	"github.com/spf13/pflag"
)

// Config holds the bus's full configuration surface.
type Config struct {
	Log                  LogConfig                  `koanf:"log"`
	Server               ServerConfig               `koanf:"server"`
	BaseURI              string                     `koanf:"baseuri"`
	ReplyTimeout         string                     `koanf:"replytimeout"`
	Queueing             QueueingConfig             `koanf:"queueing"`
	SubscriptionTracking SubscriptionTrackingConfig `koanf:"subscriptiontracking"`
	Journaling           JournalingConfig           `koanf:"journaling"`
	Endpoints            []EndpointConfig           `koanf:"endpoints"`
	Topics               []string                   `koanf:"topics"`
	SendRules            []SendRuleConfig           `koanf:"sendrules"`
	Subscriptions        []SubscriptionConfig       `koanf:"subscriptions"`
	Database             DatabaseConfig             `koanf:"database"`
	NATS                 NATSConfig                 `koanf:"nats"`

	// Internal fields (not marshaled by koanf)
	k      *koanf.Koanf
	logger log.Logger
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `koanf:"level"`
}

// ServerConfig holds the inbound HTTP listener configuration.
type ServerConfig struct {
	Port string `koanf:"port"`
}

// QueueingConfig selects the queue.Store backend and its location.
type QueueingConfig struct {
	Provider string `koanf:"provider"`
	Path     string `koanf:"path"`
}

// SubscriptionTrackingConfig selects the subscription.Store backend.
type SubscriptionTrackingConfig struct {
	Provider string `koanf:"provider"`
	Path     string `koanf:"path"`
}

// JournalingConfig controls whether published messages are mirrored to an
// external journal sink (e.g. NATS) alongside normal delivery.
type JournalingConfig struct {
	Provider string `koanf:"provider"`
	Enabled  bool   `koanf:"enabled"`
}

// EndpointConfig describes one statically configured remote bus instance.
type EndpointConfig struct {
	Name       string `koanf:"name"`
	Address    string `koanf:"address"`
	CredType   string `koanf:"credtype"`
	Credential string `koanf:"credential"`
}

// SendRuleConfig maps a message name pattern to endpoints and/or topics a
// matching message should be sent or published to.
type SendRuleConfig struct {
	NamePattern string   `koanf:"namepattern"`
	Endpoints   []string `koanf:"endpoints"`
	Topics      []string `koanf:"topics"`
	PerMessage  bool     `koanf:"permessage"`
}

// SubscriptionConfig describes one outbound subscription this bus
// maintains against a remote publisher.
type SubscriptionConfig struct {
	Endpoint   string `koanf:"endpoint"`
	Topic      string `koanf:"topic"`
	TTL        string `koanf:"ttl"`
	AutoRenew  bool   `koanf:"autorenew"`
}

// DatabaseConfig holds connection settings for the optional reference
// storage backends (storage/postgres, storage/mongo).
type DatabaseConfig struct {
	Driver   string `koanf:"driver"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	Schema   string `koanf:"schema"`
	SSLMode  string `koanf:"sslmode"`
}

// NATSConfig holds connection settings for the NATS journal sink.
type NATSConfig struct {
	URL          string `koanf:"url"`
	ClusterID    string `koanf:"clusterid"`
	ClientID     string `koanf:"clientid"`
	MaxReconnect int    `koanf:"maxreconnect"`
}

// Option configures Config during initialization.
type Option func(*configOptions) error

// configOptions holds option values during initialization.
type configOptions struct {
	prefix       string
	file         string
	defaults     map[string]interface{}
	envExpansion bool
	flags        *pflag.FlagSet
}

// WithFlags layers command-line flag overrides on top of file/env/defaults.
// Recognized flags mirror the wire config surface (--server.port,
// --baseuri, --replytimeout, --log.level, --database.driver,
// --database.host).
func WithFlags(args []string) Option {
	return func(opts *configOptions) error {
		fs := pflag.NewFlagSet("relaybus", pflag.ContinueOnError)
		fs.String("server.port", "", "inbound HTTP listener port")
		fs.String("baseuri", "", "this bus instance's externally reachable base URI")
		fs.String("replytimeout", "", "default reply-to-sender timeout")
		fs.String("log.level", "", "log level (debug, info, error)")
		fs.String("database.driver", "", "reference storage backend driver (fake, postgres, mongo)")
		fs.String("database.host", "", "reference storage backend host")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("cannot parse flags: %w", err)
		}
		opts.flags = fs
		return nil
	}
}

// WithPrefix sets the environment variable prefix (e.g., "RELAYBUS_").
func WithPrefix(prefix string) Option {
	return func(opts *configOptions) error {
		opts.prefix = prefix
		return nil
	}
}

// WithFile loads configuration from a YAML file.
func WithFile(path string) Option {
	return func(opts *configOptions) error {
		opts.file = path
		return nil
	}
}

// WithDefaults provides default values via a map.
func WithDefaults(defaults map[string]interface{}) Option {
	return func(opts *configOptions) error {
		opts.defaults = defaults
		return nil
	}
}

// WithEnvExpansion enables ${VAR} expansion in config files.
func WithEnvExpansion() Option {
	return func(opts *configOptions) error {
		opts.envExpansion = true
		return nil
	}
}

// New creates a new Config with logger and options.
func New(logger log.Logger, opts ...Option) (*Config, error) {
	cfg := &Config{
		logger: logger,
		k:      koanf.New("."),
	}

	options := &configOptions{
		prefix:       "",
		file:         "",
		defaults:     make(map[string]interface{}),
		envExpansion: false,
	}

	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	baselineDefaults := map[string]interface{}{
		"log.level":                        "info",
		"server.port":                      ":8181",
		"baseuri":                          "http://localhost:8181/",
		"replytimeout":                     "30s",
		"queueing.provider":                "memory",
		"queueing.path":                    "",
		"subscriptiontracking.provider":    "memory",
		"subscriptiontracking.path":        "",
		"journaling.provider":              "",
		"journaling.enabled":               false,
		"database.driver":                  "fake",
		"database.host":                    "localhost",
		"database.port":                    5432,
		"database.user":                    "dev",
		"database.password":                "dev",
		"database.database":                "dev",
		"database.schema":                  "relaybus",
		"database.sslmode":                 "disable",
		"nats.url":                         "nats://localhost:4222",
		"nats.clusterid":                   "",
		"nats.clientid":                    "",
		"nats.maxreconnect":                10,
	}

	for k, v := range baselineDefaults {
		if _, exists := options.defaults[k]; !exists {
			options.defaults[k] = v
		}
	}

	if err := cfg.k.Load(confmap.Provider(options.defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if options.file != "" {
		raw, err := os.ReadFile(options.file)
		if err != nil {
			logger.Debugf("Config file not found: %s (using defaults)", options.file)
		} else {
			if options.envExpansion {
				raw = []byte(os.ExpandEnv(string(raw)))
			}
			if err := cfg.k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			logger.Debugf("Loaded config from file: %s", options.file)
		}
	}

	if options.prefix != "" {
		if err := cfg.k.Load(env.Provider(options.prefix, ".", func(s string) string {
			return strings.Replace(strings.ToLower(
				strings.TrimPrefix(s, options.prefix)), "_", ".", -1)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	if options.flags != nil {
		if err := cfg.k.Load(posflag.Provider(options.flags, ".", cfg.k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Infof("Configuration loaded: baseUri=%s, queueing=%s, subscriptionTracking=%s",
		cfg.BaseURI, cfg.Queueing.Provider, cfg.SubscriptionTracking.Provider)

	return cfg, nil
}

// GetString returns the string value for the given path.
func (c *Config) GetString(path string) string {
	return c.k.String(path)
}

// GetInt returns the int value for the given path.
func (c *Config) GetInt(path string) int {
	return c.k.Int(path)
}

// GetBool returns the bool value for the given path.
func (c *Config) GetBool(path string) bool {
	return c.k.Bool(path)
}

// GetFloat returns the float64 value for the given path.
func (c *Config) GetFloat(path string) float64 {
	return c.k.Float64(path)
}

// GetDuration parses and returns a time.Duration for the given path.
func (c *Config) GetDuration(path string) (time.Duration, error) {
	s := c.k.String(path)
	if s == "" {
		return 0, fmt.Errorf("no value found for path: %s", path)
	}
	return time.ParseDuration(s)
}

// Exists returns true if the given path exists in the configuration.
func (c *Config) Exists(path string) bool {
	return c.k.Exists(path)
}

// ReplyTimeoutDuration parses the configured reply timeout.
func (c *Config) ReplyTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.ReplyTimeout)
}

// Validate validates the configuration's recognized option surface. It
// does not inspect arbitrary plugin-hook configuration.
func (c *Config) Validate() error {
	if !validation.IsRequired(c.Server.Port) {
		return fmt.Errorf("server.port is required")
	}

	if c.BaseURI == "" {
		return fmt.Errorf("baseuri is required")
	}
	if err := validation.ValidateURI(c.BaseURI); err != nil {
		return fmt.Errorf("baseuri: %w", err)
	}

	replyTimeout, err := c.ReplyTimeoutDuration()
	if err != nil {
		return fmt.Errorf("replytimeout: %w", err)
	}
	if err := validation.ValidateNonNegativeDuration(replyTimeout); err != nil {
		return fmt.Errorf("replytimeout: %w", err)
	}

	if !validation.OneOf(c.Queueing.Provider, []string{"memory", "postgres"}) {
		return fmt.Errorf("queueing.provider must be 'memory' or 'postgres', got '%s'", c.Queueing.Provider)
	}

	if !validation.OneOf(c.SubscriptionTracking.Provider, []string{"memory", "postgres", "mongo"}) {
		return fmt.Errorf("subscriptiontracking.provider must be 'memory', 'postgres', or 'mongo', got '%s'", c.SubscriptionTracking.Provider)
	}

	if c.Journaling.Enabled && c.Journaling.Provider == "" {
		return fmt.Errorf("journaling.provider is required when journaling.enabled is true")
	}

	seen := make(map[string]bool)
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d].name is required", i)
		}
		if err := validation.ValidateName(ep.Name); err != nil {
			return fmt.Errorf("endpoints[%d].name: %w", i, err)
		}
		if seen[ep.Name] {
			return fmt.Errorf("endpoints[%d].name %q is duplicated", i, ep.Name)
		}
		seen[ep.Name] = true
		if ep.Address == "" {
			return fmt.Errorf("endpoints[%d].address is required", i)
		}
		if err := validation.ValidateURI(ep.Address); err != nil {
			return fmt.Errorf("endpoints[%d].address: %w", i, err)
		}
	}

	for i, topic := range c.Topics {
		if err := validation.ValidateTopic(topic); err != nil {
			return fmt.Errorf("topics[%d]: %w", i, err)
		}
	}

	for i, rule := range c.SendRules {
		if err := validation.ValidatePattern(rule.NamePattern); err != nil {
			return fmt.Errorf("sendrules[%d].namepattern: %w", i, err)
		}
	}

	for i, sub := range c.Subscriptions {
		if sub.TTL == "" {
			continue
		}
		ttl, err := time.ParseDuration(sub.TTL)
		if err != nil {
			return fmt.Errorf("subscriptions[%d].ttl: %w", i, err)
		}
		if err := validation.ValidateTTL(ttl); err != nil {
			return fmt.Errorf("subscriptions[%d].ttl: %w", i, err)
		}
	}

	validDrivers := map[string]bool{"fake": true, "postgres": true, "mongo": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be 'fake', 'postgres', or 'mongo', got '%s'", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" || c.Database.Driver == "mongo" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for %s driver", c.Database.Driver)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be 'debug', 'info', or 'error', got '%s'", c.Log.Level)
	}

	c.logger.Debugf("Configuration validated successfully")

	return nil
}

// ConnectionString builds a PostgreSQL connection string with schema support.
func (d DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)

	if d.Schema != "" {
		connStr += fmt.Sprintf(" search_path=%s", d.Schema)
	}

	return connStr
}
