package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewParsesLevel(t *testing.T) {
	l := New(Config{Level: "debug"})
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", l.GetLevel())
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	l := New(Config{Level: "shouty"})
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %v, want info", l.GetLevel())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf})
	l.WithField("table", "colors").Info("rolled")
	if !strings.Contains(buf.String(), `"table":"colors"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}
}

func TestNopIsSilent(t *testing.T) {
	l := Nop()
	l.Error("should not be seen")
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf})
	l.Component("engine").Info("up")
	if !strings.Contains(buf.String(), `"component":"engine"`) {
		t.Fatalf("expected component field, got %q", buf.String())
	}
}
