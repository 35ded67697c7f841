package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}

	if c.MaxRequestsPerSecond != 100 || c.MaxRequestsPerHandler != 50 {
		t.Errorf("unexpected rate limits: %d/%d", c.MaxRequestsPerSecond, c.MaxRequestsPerHandler)
	}

	if c.EnqueueTimeout.D() != 5*time.Second || c.ResponseTimeout.D() != 30*time.Second {
		t.Errorf("unexpected timeouts: %v/%v", c.EnqueueTimeout, c.ResponseTimeout)
	}
}

func TestProfiles(t *testing.T) {
	for _, p := range []string{"development", "production", "testing", "default"} {
		if err := Profile(p).Validate(); err != nil {
			t.Errorf("profile %s invalid: %v", p, err)
		}
	}

	if Development().EnableThrottling {
		t.Error("development profile throttles")
	}

	if !Production().LogJSON {
		t.Error("production profile does not log JSON")
	}

	if got := Profile("bogus"); got != Default() {
		t.Error("unknown profile is not the default")
	}
}

func TestLoad(t *testing.T) {
	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, strings.Join([]string{
			"address: :8080",
			"max-workers: 8",
			"enqueue-timeout: 250ms",
		}, "\n"))

		c, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}

		if c.Address != ":8080" || c.MaxWorkers != 8 {
			t.Errorf("file values not applied: %s %d", c.Address, c.MaxWorkers)
		}

		if c.EnqueueTimeout.D() != 250*time.Millisecond {
			t.Errorf("duration not parsed: %v", c.EnqueueTimeout)
		}

		if c.MaxRequestsPerSecond != 100 {
			t.Errorf("default lost: %d", c.MaxRequestsPerSecond)
		}
	})

	t.Run("invalid duration fails", func(t *testing.T) {
		path := writeConfig(t, "enqueue-timeout: soon")
		if _, err := Load(path); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("unknown key fails", func(t *testing.T) {
		path := writeConfig(t, "max-handlers: 3")
		if _, err := Load(path); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("missing file fails", func(t *testing.T) {
		if _, err := Load("/nonexistent.yaml"); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("PORTMUX_MAX_WORKERS", "3")
		t.Setenv("PORTMUX_ENABLE_BREAKER", "false")
		t.Setenv("PORTMUX_POLL_TIMEOUT", "20ms")

		path := writeConfig(t, "max-workers: 8")
		c, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}

		if c.MaxWorkers != 3 || c.EnableBreaker || c.PollTimeout.D() != 20*time.Millisecond {
			t.Errorf("environment not applied: %+v", c)
		}
	})

	t.Run("invalid environment value is ignored", func(t *testing.T) {
		t.Setenv("PORTMUX_MAX_WORKERS", "many")

		c, err := Load("")
		if err != nil {
			t.Fatal(err)
		}

		if c.MaxWorkers != 50 {
			t.Errorf("got %d", c.MaxWorkers)
		}
	})
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		change func(*Config)
	}{
		{"zero workers", func(c *Config) { c.MaxWorkers = 0 }},
		{"negative queue", func(c *Config) { c.RequestQueueSize = -1 }},
		{"zero timeout", func(c *Config) { c.ResponseTimeout = 0 }},
		{"handler limit above global", func(c *Config) { c.MaxRequestsPerHandler = c.MaxRequestsPerSecond + 1 }},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.change(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
