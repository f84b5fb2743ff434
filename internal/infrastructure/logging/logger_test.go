package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []config.LoggingConfig{
		{Level: "info", Format: "json", Output: "stdout"},
		{Level: "debug", Format: "text", Output: "stderr"},
		{},
	}
	for _, cfg := range tests {
		if New(cfg, "1.0.0") == nil {
			t.Errorf("New(%+v) = nil", cfg)
		}
	}
	if Default() == nil {
		t.Error("Default() = nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewWithWriter_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3", &buf)

	log.Info("device registered", "bus_service", "com.victronenergy.pvinverter.MQTT1")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e["msg"] != "device registered" || e["version"] != "1.2.3" {
		t.Errorf("entry = %v", e)
	}
	if e["service"] != ServiceName || e["bus_service"] != "com.victronenergy.pvinverter.MQTT1" {
		t.Errorf("entry = %v", e)
	}
	if n := strings.Count(buf.String(), `"service":`); n != 1 {
		t.Errorf("service key appears %d times: %s", n, buf.String())
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, "test", &buf)

	log.Debug("refresh cycle")
	log.Info("feed listener started")
	log.Warn("reading dropped", "topic", "ESS/Enphase/rmsVoltage")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "reading dropped" {
		t.Errorf("entries = %v, want only the warning", entries)
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Format: "TEXT"}, "test", &buf)

	log.Info("MQTT connected", "broker", "10.4.4.36:1883")

	out := buf.String()
	if !strings.Contains(out, "msg=\"MQTT connected\"") || !strings.Contains(out, "broker=10.4.4.36:1883") {
		t.Errorf("text output = %q", out)
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Format: "json"}, "test", &buf)

	log.Info("InfluxDB connected", "token", "s3cr3t", "Password", "hunter2", "org", "home")
	log.Info("no token configured", "token", "")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0]["token"] != redacted || entries[0]["Password"] != redacted {
		t.Errorf("secrets not redacted: %v", entries[0])
	}
	if entries[0]["org"] != "home" {
		t.Errorf("org = %v, want home", entries[0]["org"])
	}
	if entries[1]["token"] != "" {
		t.Errorf("empty token rewritten to %v", entries[1]["token"])
	}
	if strings.Contains(buf.String(), "s3cr3t") || strings.Contains(buf.String(), "hunter2") {
		t.Error("secret value reached the output")
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Format: "json"}, "test", &buf)

	feed := log.Component("feed")
	if feed == log {
		t.Fatal("Component() returned the parent logger")
	}
	feed.Info("subscribed", "topics", 4)
	log.Info("parent entry")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0]["component"] != "feed" {
		t.Errorf("component = %v, want feed", entries[0]["component"])
	}
	if _, ok := entries[1]["component"]; ok {
		t.Error("parent logger gained the component field")
	}
}
