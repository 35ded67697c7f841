package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInit(t *testing.T) {
	defer func() {
		logrus.SetOutput(logrus.StandardLogger().Out)
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	}()

	t.Run("prefix is prepended", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Options{
			ApplicationLogPrefix: "[gateway]",
			ApplicationLogOutput: &buf,
		})

		logrus.Info("hello")
		if !strings.HasPrefix(buf.String(), "[gateway]") {
			t.Errorf("prefix missing: %q", buf.String())
		}
	})

	t.Run("level filters entries", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Options{
			ApplicationLogOutput: &buf,
			ApplicationLogLevel:  "warn",
		})

		logrus.Info("dropped")
		logrus.Warn("kept")

		out := buf.String()
		if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		Init(Options{ApplicationLogLevel: "chatty"})
		if logrus.GetLevel() != logrus.InfoLevel {
			t.Errorf("got level %v", logrus.GetLevel())
		}
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Options{
			ApplicationLogOutput:      &buf,
			ApplicationLogJSONEnabled: true,
		})

		logrus.Info("hello")
		if !strings.Contains(buf.String(), `"msg":"hello"`) {
			t.Errorf("not JSON: %q", buf.String())
		}
	})
}
