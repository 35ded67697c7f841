// Package config defines the tunables of the gateway and loads them from
// YAML files and environment variables. The zero config is not usable,
// start from one of the profiles and override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}

	v, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}

	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config holds all gateway tunables.
type Config struct {
	Address           string `yaml:"address"`
	LogLevel          string `yaml:"log-level"`
	LogJSON           bool   `yaml:"log-json"`
	AccessLogDisabled bool   `yaml:"access-log-disabled"`

	EnableThrottling      bool `yaml:"enable-throttling"`
	EnableBreaker         bool `yaml:"enable-breaker"`
	EnableConnectionLimit bool `yaml:"enable-connection-limit"`
	EnableMonitoring      bool `yaml:"enable-monitoring"`

	MaxRequestsPerSecond  int `yaml:"max-requests-per-second"`
	MaxRequestsPerHandler int `yaml:"max-requests-per-handler"`
	MaxConnections        int `yaml:"max-connections"`
	MaxWorkers            int `yaml:"max-workers"`

	RequestQueueSize  int `yaml:"request-queue-size"`
	ResponseQueueSize int `yaml:"response-queue-size"`

	EnqueueTimeout  Duration `yaml:"enqueue-timeout"`
	ResponseTimeout Duration `yaml:"response-timeout"`
	PollTimeout     Duration `yaml:"poll-timeout"`

	BreakerFailureThreshold int      `yaml:"breaker-failure-threshold"`
	BreakerRecoveryTimeout  Duration `yaml:"breaker-recovery-timeout"`

	MonitorWindowSize int `yaml:"monitor-window-size"`
}

// Default returns the production-leaning baseline every profile is derived
// from.
func Default() Config {
	return Config{
		Address:                 ":9090",
		LogLevel:                "info",
		EnableThrottling:        true,
		EnableBreaker:           true,
		EnableConnectionLimit:   true,
		EnableMonitoring:        true,
		MaxRequestsPerSecond:    100,
		MaxRequestsPerHandler:   50,
		MaxConnections:          100,
		MaxWorkers:              50,
		RequestQueueSize:        1000,
		ResponseQueueSize:       1000,
		EnqueueTimeout:          Duration(5 * time.Second),
		ResponseTimeout:         Duration(30 * time.Second),
		PollTimeout:             Duration(time.Second),
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  Duration(60 * time.Second),
		MonitorWindowSize:       1000,
	}
}

// Development returns a profile with verbose logging and throttling turned
// off.
func Development() Config {
	c := Default()
	c.LogLevel = "debug"
	c.EnableThrottling = false
	c.EnableBreaker = false
	c.EnableConnectionLimit = false
	return c
}

// Production returns the default profile with JSON logs.
func Production() Config {
	c := Default()
	c.LogJSON = true
	return c
}

// Testing returns a profile with short timeouts and small queues.
func Testing() Config {
	c := Default()
	c.LogLevel = "debug"
	c.RequestQueueSize = 10
	c.ResponseQueueSize = 10
	c.EnqueueTimeout = Duration(100 * time.Millisecond)
	c.ResponseTimeout = Duration(time.Second)
	c.PollTimeout = Duration(10 * time.Millisecond)
	c.BreakerRecoveryTimeout = Duration(time.Second)
	c.MonitorWindowSize = 100
	return c
}

// Profile returns the named profile, or the default for an unknown name.
func Profile(name string) Config {
	switch name {
	case "development", "dev":
		return Development()
	case "production", "prod":
		return Production()
	case "testing", "test":
		return Testing()
	case "", "default":
		return Default()
	default:
		log.Warnf("unknown config profile %q, using the default", name)
		return Default()
	}
}

// Load reads a YAML file over the default profile, applies the environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.UnmarshalStrict(content, &c); err != nil {
			return c, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return c, err
	}

	return c, nil
}

// applyEnv overrides fields from PORTMUX_* environment variables.
func (c *Config) applyEnv() {
	envString("PORTMUX_ADDRESS", &c.Address)
	envString("PORTMUX_LOG_LEVEL", &c.LogLevel)
	envBool("PORTMUX_ENABLE_THROTTLING", &c.EnableThrottling)
	envBool("PORTMUX_ENABLE_BREAKER", &c.EnableBreaker)
	envBool("PORTMUX_ENABLE_CONNECTION_LIMIT", &c.EnableConnectionLimit)
	envBool("PORTMUX_ENABLE_MONITORING", &c.EnableMonitoring)
	envInt("PORTMUX_MAX_REQUESTS_PER_SECOND", &c.MaxRequestsPerSecond)
	envInt("PORTMUX_MAX_REQUESTS_PER_HANDLER", &c.MaxRequestsPerHandler)
	envInt("PORTMUX_MAX_CONNECTIONS", &c.MaxConnections)
	envInt("PORTMUX_MAX_WORKERS", &c.MaxWorkers)
	envDuration("PORTMUX_ENQUEUE_TIMEOUT", &c.EnqueueTimeout)
	envDuration("PORTMUX_RESPONSE_TIMEOUT", &c.ResponseTimeout)
	envDuration("PORTMUX_POLL_TIMEOUT", &c.PollTimeout)
}

func envString(name string, target *string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func envBool(name string, target *bool) {
	v := os.Getenv(name)
	if v == "" {
		return
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warnf("ignoring %s=%q: %v", name, v, err)
		return
	}

	*target = b
}

func envInt(name string, target *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("ignoring %s=%q: %v", name, v, err)
		return
	}

	*target = i
}

func envDuration(name string, target *Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warnf("ignoring %s=%q: %v", name, v, err)
		return
	}

	*target = Duration(d)
}

// Validate checks the ranges of the tunables.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"max-requests-per-second", c.MaxRequestsPerSecond},
		{"max-requests-per-handler", c.MaxRequestsPerHandler},
		{"max-connections", c.MaxConnections},
		{"max-workers", c.MaxWorkers},
		{"request-queue-size", c.RequestQueueSize},
		{"response-queue-size", c.ResponseQueueSize},
		{"breaker-failure-threshold", c.BreakerFailureThreshold},
		{"monitor-window-size", c.MonitorWindowSize},
	}

	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	durations := []struct {
		name  string
		value Duration
	}{
		{"enqueue-timeout", c.EnqueueTimeout},
		{"response-timeout", c.ResponseTimeout},
		{"poll-timeout", c.PollTimeout},
		{"breaker-recovery-timeout", c.BreakerRecoveryTimeout},
	}

	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.value)
		}
	}

	if c.MaxRequestsPerHandler > c.MaxRequestsPerSecond {
		return fmt.Errorf(
			"max-requests-per-handler (%d) exceeds max-requests-per-second (%d)",
			c.MaxRequestsPerHandler,
			c.MaxRequestsPerSecond,
		)
	}

	return nil
}
