package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_NilConfig(t *testing.T) {
	l, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) failed: %v", err)
	}
	if l == nil {
		t.Fatal("New(nil) returned nil logger")
	}
	l.Info("test")
}

func TestNew_PartialConfig(t *testing.T) {
	cfg := &Config{Level: "debug"}
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New with partial config failed: %v", err)
	}
	if cfg.Encoding != "json" {
		t.Errorf("expected encoding to default to json, got %q", cfg.Encoding)
	}
	if len(cfg.OutputPaths) != 1 || cfg.OutputPaths[0] != "stdout" {
		t.Errorf("expected output paths to default to stdout, got %v", cfg.OutputPaths)
	}
	l.Debug("test from partial config")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Encoding: "json"})
	if err == nil {
		t.Fatal("expected error for invalid level, got nil")
	}
}

func TestNew_InvalidEncoding(t *testing.T) {
	_, err := New(&Config{Level: "info", Encoding: "xml"})
	if err == nil {
		t.Fatal("expected error for invalid encoding, got nil")
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("discarded", zap.String("key", "value"))
	if err := l.Sync(); err != nil {
		t.Errorf("Sync on nop logger returned %v", err)
	}
}

func TestComponent_AddsField(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	l := Component(zap.New(core), "changefeed")

	l.Info("started")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["component"]; got != "changefeed" {
		t.Errorf("expected component field changefeed, got %v", got)
	}
}

func TestComponent_NilLogger(t *testing.T) {
	l := Component(nil, "cache")
	if l == nil {
		t.Fatal("Component(nil) should return a usable logger")
	}
	l.Info("no panic")
}
